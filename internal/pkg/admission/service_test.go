package admission_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scribehub/scribe/internal/pkg/admission"
	"github.com/scribehub/scribe/internal/pkg/errdef"
	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/plans"
	"github.com/scribehub/scribe/internal/pkg/status"
	"github.com/scribehub/scribe/internal/pkg/test"
	"github.com/scribehub/scribe/internal/pkg/test/mocks"
	"github.com/scribehub/scribe/internal/pkg/utils"
)

var (
	queriesMock *mocks.Queries
	txMock      *mocks.TxRunner
	senderMock  *mocks.Sender
	srvData     *admission.Data
)

func initTest(t *testing.T) {
	queriesMock = &mocks.Queries{}
	txMock = &mocks.TxRunner{Queries: queriesMock}
	senderMock = &mocks.Sender{}
	srvData = &admission.Data{Tx: txMock, Sender: senderMock, Plans: plans.NewResolver(nil)}
	queriesMock.On("LoadUser", mock.Anything, "u1").Return(&persistence.User{ID: "u1", Plan: "free"}, nil)
	queriesMock.On("LoadMediaFile", mock.Anything, "m1", "u1").Return(&persistence.MediaFile{ID: "m1", UserID: "u1"}, nil)
	queriesMock.On("HasActiveJobForMedia", mock.Anything, "m1").Return(false, nil)
	queriesMock.On("CountJobsCreatedSince", mock.Anything, "u1", mock.Anything).Return(0, nil)
	queriesMock.On("CountActiveJobs", mock.Anything, "u1").Return(0, nil)
	queriesMock.On("InsertJob", mock.Anything, mock.Anything).Return(nil)
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func Test_Submit(t *testing.T) {
	initTest(t)
	id, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: "m1", Quality: "standard"})
	assert.Nil(t, err)
	assert.NotEmpty(t, id)
	require.Equal(t, 1, len(senderMock.Calls))
	assert.Equal(t, messages.Default, senderMock.Calls[0].Arguments[2])
	assert.Equal(t, messages.JobTranscribe, senderMock.Calls[0].Arguments[3])
	msg := senderMock.Calls[0].Arguments[1].(*messages.TranscriptionMessage)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, "u1", msg.UserID)
}

func Test_Submit_InsertsPending(t *testing.T) {
	initTest(t)
	_, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: "m1", Quality: "standard"})
	assert.Nil(t, err)
	var job *persistence.Job
	for _, c := range queriesMock.Calls {
		if c.Method == "InsertJob" {
			job = c.Arguments[1].(*persistence.Job)
		}
	}
	require.NotNil(t, job)
	assert.Equal(t, status.Pending.String(), job.Status)
	assert.Equal(t, "m1", job.MediaFileID)
	assert.Equal(t, "standard", job.Quality)
}

func Test_Submit_Validation(t *testing.T) {
	initTest(t)
	_, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "", MediaID: "m1"})
	assert.True(t, errdef.IsValidation(err))
	_, err = admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: ""})
	assert.True(t, errdef.IsValidation(err))
}

func Test_Submit_NoUser(t *testing.T) {
	initTest(t)
	queriesMock.ExpectedCalls = nil
	queriesMock.On("LoadUser", mock.Anything, "u1").Return(nil, nil)
	_, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: "m1"})
	assert.True(t, errdef.IsNotFound(err))
	assert.Equal(t, 0, len(senderMock.Calls))
}

func Test_Submit_NoMedia(t *testing.T) {
	initTest(t)
	queriesMock.ExpectedCalls = nil
	queriesMock.On("LoadUser", mock.Anything, "u1").Return(&persistence.User{ID: "u1", Plan: "free"}, nil)
	queriesMock.On("LoadMediaFile", mock.Anything, "m1", "u1").Return(nil, nil)
	queriesMock.On("LoadUploadSession", mock.Anything, "m1", "u1").Return(nil, nil)
	_, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: "m1"})
	assert.True(t, errdef.IsNotFound(err))
}

func Test_Submit_ActiveJob(t *testing.T) {
	initTest(t)
	queriesMock.ExpectedCalls = nil
	queriesMock.On("LoadUser", mock.Anything, "u1").Return(&persistence.User{ID: "u1", Plan: "free"}, nil)
	queriesMock.On("LoadMediaFile", mock.Anything, "m1", "u1").Return(&persistence.MediaFile{ID: "m1", UserID: "u1"}, nil)
	queriesMock.On("HasActiveJobForMedia", mock.Anything, "m1").Return(true, nil)
	_, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: "m1"})
	assert.True(t, errdef.IsConflict(err))
	assert.Equal(t, 0, len(senderMock.Calls))
}

func Test_Submit_DailyLimit(t *testing.T) {
	initTest(t)
	queriesMock.ExpectedCalls = nil
	queriesMock.On("LoadUser", mock.Anything, "u1").Return(&persistence.User{ID: "u1", Plan: "free"}, nil)
	queriesMock.On("LoadMediaFile", mock.Anything, "m1", "u1").Return(&persistence.MediaFile{ID: "m1", UserID: "u1"}, nil)
	queriesMock.On("HasActiveJobForMedia", mock.Anything, "m1").Return(false, nil)
	queriesMock.On("CountJobsCreatedSince", mock.Anything, "u1", mock.Anything).Return(5, nil)
	_, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: "m1"})
	assert.True(t, errdef.IsLimitExceeded(err))
}

func Test_Submit_ConcurrentLimit(t *testing.T) {
	initTest(t)
	queriesMock.ExpectedCalls = nil
	queriesMock.On("LoadUser", mock.Anything, "u1").Return(&persistence.User{ID: "u1", Plan: "free"}, nil)
	queriesMock.On("LoadMediaFile", mock.Anything, "m1", "u1").Return(&persistence.MediaFile{ID: "m1", UserID: "u1"}, nil)
	queriesMock.On("HasActiveJobForMedia", mock.Anything, "m1").Return(false, nil)
	queriesMock.On("CountJobsCreatedSince", mock.Anything, "u1", mock.Anything).Return(0, nil)
	queriesMock.On("CountActiveJobs", mock.Anything, "u1").Return(1, nil)
	_, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: "m1"})
	assert.True(t, errdef.IsLimitExceeded(err))
}

func Test_Submit_RetriesConflict(t *testing.T) {
	initTest(t)
	queriesMock.ExpectedCalls = nil
	queriesMock.On("LoadUser", mock.Anything, "u1").Return(&persistence.User{ID: "u1", Plan: "free"}, nil)
	queriesMock.On("LoadMediaFile", mock.Anything, "m1", "u1").Return(&persistence.MediaFile{ID: "m1", UserID: "u1"}, nil)
	queriesMock.On("HasActiveJobForMedia", mock.Anything, "m1").Return(false, nil)
	queriesMock.On("CountJobsCreatedSince", mock.Anything, "u1", mock.Anything).Return(0, nil)
	queriesMock.On("CountActiveJobs", mock.Anything, "u1").Return(0, nil)
	queriesMock.On("InsertJob", mock.Anything, mock.Anything).Return(errdef.NewRetryableConflict("serialize")).Once()
	queriesMock.On("InsertJob", mock.Anything, mock.Anything).Return(nil)
	id, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: "m1"})
	assert.Nil(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 2, txMock.Calls)
}

func Test_Submit_RetriesExhausted(t *testing.T) {
	initTest(t)
	queriesMock.ExpectedCalls = nil
	queriesMock.On("LoadUser", mock.Anything, "u1").Return(&persistence.User{ID: "u1", Plan: "free"}, nil)
	queriesMock.On("LoadMediaFile", mock.Anything, "m1", "u1").Return(&persistence.MediaFile{ID: "m1", UserID: "u1"}, nil)
	queriesMock.On("HasActiveJobForMedia", mock.Anything, "m1").Return(false, nil)
	queriesMock.On("CountJobsCreatedSince", mock.Anything, "u1", mock.Anything).Return(0, nil)
	queriesMock.On("CountActiveJobs", mock.Anything, "u1").Return(0, nil)
	queriesMock.On("InsertJob", mock.Anything, mock.Anything).Return(errdef.NewRetryableConflict("serialize"))
	_, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: "m1"})
	assert.NotNil(t, err)
	assert.Equal(t, 3, txMock.Calls)
	assert.Equal(t, 0, len(senderMock.Calls))
}

func Test_Submit_PromotesSession(t *testing.T) {
	initTest(t)
	queriesMock.ExpectedCalls = nil
	queriesMock.On("LoadUser", mock.Anything, "u1").Return(&persistence.User{ID: "u1", Plan: "free"}, nil)
	queriesMock.On("LoadMediaFile", mock.Anything, "s1", "u1").Return(nil, nil)
	queriesMock.On("LoadUploadSession", mock.Anything, "s1", "u1").Return(&persistence.UploadSession{ID: "s1",
		UserID: "u1", FileName: "a.mp3", StorageKey: "k1", Status: status.SessionReady}, nil)
	queriesMock.On("InsertMediaFile", mock.Anything, mock.Anything).Return(nil)
	queriesMock.On("LinkSessionMedia", mock.Anything, "s1", mock.Anything).Return(nil)
	queriesMock.On("HasActiveJobForMedia", mock.Anything, mock.Anything).Return(false, nil)
	queriesMock.On("CountJobsCreatedSince", mock.Anything, "u1", mock.Anything).Return(0, nil)
	queriesMock.On("CountActiveJobs", mock.Anything, "u1").Return(0, nil)
	queriesMock.On("InsertJob", mock.Anything, mock.Anything).Return(nil)
	id, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: "s1"})
	assert.Nil(t, err)
	assert.NotEmpty(t, id)
	var media *persistence.MediaFile
	for _, c := range queriesMock.Calls {
		if c.Method == "InsertMediaFile" {
			media = c.Arguments[1].(*persistence.MediaFile)
		}
	}
	require.NotNil(t, media)
	assert.Equal(t, "k1", media.StorageKey)
	assert.Equal(t, "a.mp3", media.FileName)
	queriesMock.AssertCalled(t, "LinkSessionMedia", mock.Anything, "s1", media.ID)
}

func Test_Submit_SessionAlreadyPromoted(t *testing.T) {
	initTest(t)
	queriesMock.ExpectedCalls = nil
	queriesMock.On("LoadUser", mock.Anything, "u1").Return(&persistence.User{ID: "u1", Plan: "free"}, nil)
	queriesMock.On("LoadMediaFile", mock.Anything, "s1", "u1").Return(nil, nil)
	queriesMock.On("LoadUploadSession", mock.Anything, "s1", "u1").Return(&persistence.UploadSession{ID: "s1",
		UserID: "u1", Status: status.SessionReady, MediaFileID: utils.ToSQLStr("m2")}, nil)
	queriesMock.On("LoadMediaFile", mock.Anything, "m2", "u1").Return(&persistence.MediaFile{ID: "m2", UserID: "u1"}, nil)
	queriesMock.On("HasActiveJobForMedia", mock.Anything, "m2").Return(false, nil)
	queriesMock.On("CountJobsCreatedSince", mock.Anything, "u1", mock.Anything).Return(0, nil)
	queriesMock.On("CountActiveJobs", mock.Anything, "u1").Return(0, nil)
	queriesMock.On("InsertJob", mock.Anything, mock.Anything).Return(nil)
	_, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: "s1"})
	assert.Nil(t, err)
	queriesMock.AssertNotCalled(t, "InsertMediaFile", mock.Anything, mock.Anything)
}

func Test_Submit_SessionNotReady(t *testing.T) {
	initTest(t)
	queriesMock.ExpectedCalls = nil
	queriesMock.On("LoadUser", mock.Anything, "u1").Return(&persistence.User{ID: "u1", Plan: "free"}, nil)
	queriesMock.On("LoadMediaFile", mock.Anything, "s1", "u1").Return(nil, nil)
	queriesMock.On("LoadUploadSession", mock.Anything, "s1", "u1").Return(&persistence.UploadSession{ID: "s1",
		UserID: "u1", Status: status.SessionUploading}, nil)
	_, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: "s1"})
	assert.True(t, errdef.IsValidation(err))
}

func Test_Submit_SendFails(t *testing.T) {
	initTest(t)
	senderMock.ExpectedCalls = nil
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(fmt.Errorf("olia"))
	_, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: "m1"})
	assert.NotNil(t, err)
}

func Test_Submit_PriorityQueue(t *testing.T) {
	initTest(t)
	queriesMock.ExpectedCalls = nil
	queriesMock.On("LoadUser", mock.Anything, "u1").Return(&persistence.User{ID: "u1", Plan: "pro"}, nil)
	queriesMock.On("LoadMediaFile", mock.Anything, "m1", "u1").Return(&persistence.MediaFile{ID: "m1", UserID: "u1"}, nil)
	queriesMock.On("HasActiveJobForMedia", mock.Anything, "m1").Return(false, nil)
	queriesMock.On("CountJobsCreatedSince", mock.Anything, "u1", mock.Anything).Return(0, nil)
	queriesMock.On("CountActiveJobs", mock.Anything, "u1").Return(0, nil)
	queriesMock.On("InsertJob", mock.Anything, mock.Anything).Return(nil)
	_, err := admission.Submit(test.Ctx(t), srvData, &admission.Request{UserID: "u1", MediaID: "m1"})
	assert.Nil(t, err)
	require.Equal(t, 1, len(senderMock.Calls))
	assert.Equal(t, messages.Priority, senderMock.Calls[0].Arguments[2])
}

func Test_validate(t *testing.T) {
	initTest(t)
	type args struct {
		change func(d *admission.Data)
	}
	tests := []struct {
		name    string
		args    args
		wantErr bool
	}{
		{name: "OK", args: args{change: func(d *admission.Data) {}}, wantErr: false},
		{name: "Fail Tx", args: args{change: func(d *admission.Data) { d.Tx = nil }}, wantErr: true},
		{name: "Fail Sender", args: args{change: func(d *admission.Data) { d.Sender = nil }}, wantErr: true},
		{name: "Fail Plans", args: args{change: func(d *admission.Data) { d.Plans = nil }}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initTest(t)
			tt.args.change(srvData)
			err := admission.Validate(srvData)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
