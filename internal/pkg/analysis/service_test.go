package analysis

import (
	"fmt"
	"testing"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/status"
	"github.com/scribehub/scribe/internal/pkg/test"
	"github.com/scribehub/scribe/internal/pkg/test/mocks"
	"github.com/scribehub/scribe/internal/pkg/utils"
)

var (
	dbMock         *mocks.DB
	aiMock         *mocks.Generator
	translatorMock *mocks.Translator
	senderMock     *mocks.Sender
	srvData        *ServiceData
)

func initTest(t *testing.T) {
	dbMock = &mocks.DB{}
	aiMock = &mocks.Generator{}
	translatorMock = &mocks.Translator{}
	senderMock = &mocks.Sender{}
	srvData = &ServiceData{DB: dbMock, AI: aiMock, Translator: translatorMock, MsgSender: senderMock}
	dbMock.On("LoadJob", mock.Anything, "1").Return(&persistence.Job{ID: "1", UserID: "u1",
		Status: status.Completed.String(), SourceLang: utils.ToSQLStr("en"),
		Segments: []persistence.Segment{{Text: "hello", Speaker: "S1"}, {Text: "world"}}}, nil)
	dbMock.On("UpsertAnalysis", mock.Anything, mock.Anything).Return(nil)
	aiMock.On("Model").Return("test-model")
	aiMock.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("a summary", nil)
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func newTestMsg(types ...string) *messages.AnalysisMessage {
	res := &messages.AnalysisMessage{UserID: "u1", Types: types}
	res.QueueMessage = amessages.QueueMessage{ID: "1"}
	return res
}

func Test_HandleAnalysis(t *testing.T) {
	initTest(t)
	err := HandleAnalysis(test.Ctx(t), newTestMsg(TypeShortSummary), srvData)
	assert.Nil(t, err)
	var a *persistence.Analysis
	for _, c := range dbMock.Calls {
		if c.Method == "UpsertAnalysis" {
			a = c.Arguments[1].(*persistence.Analysis)
		}
	}
	require.NotNil(t, a)
	assert.Equal(t, "1", a.JobID)
	assert.Equal(t, TypeShortSummary, a.Type)
	assert.Equal(t, "a summary", a.Content)
	assert.Equal(t, "test-model", a.Model)
	require.Equal(t, 1, len(senderMock.Calls))
	msg := senderMock.Calls[0].Arguments[1].(*messages.NotifyMessage)
	assert.Equal(t, messages.EventAnalysisUpdated, msg.Event)
}

func Test_HandleAnalysis_PrefixesSpeaker(t *testing.T) {
	initTest(t)
	err := HandleAnalysis(test.Ctx(t), newTestMsg(TypeShortSummary), srvData)
	assert.Nil(t, err)
	var transcript string
	for _, c := range aiMock.Calls {
		if c.Method == "Generate" {
			transcript = c.Arguments[2].(string)
		}
	}
	assert.Equal(t, "S1: hello\nworld", transcript)
}

func Test_HandleAnalysis_AllTypesByDefault(t *testing.T) {
	initTest(t)
	aiMock.ExpectedCalls = nil
	aiMock.On("Model").Return("test-model")
	aiMock.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(`{"ok":"v"}`, nil)
	err := HandleAnalysis(test.Ctx(t), newTestMsg(), srvData)
	assert.Nil(t, err)
	count := 0
	for _, c := range dbMock.Calls {
		if c.Method == "UpsertAnalysis" {
			count++
		}
	}
	assert.Equal(t, len(AllTypes), count)
}

func Test_HandleAnalysis_PartialFailure(t *testing.T) {
	initTest(t)
	aiMock.ExpectedCalls = nil
	aiMock.On("Model").Return("test-model")
	aiMock.On("Generate", mock.Anything, prompts[TypeShortSummary].prompt("en"), mock.Anything).Return("a summary", nil)
	aiMock.On("Generate", mock.Anything, prompts[TypeTopics].prompt("en"), mock.Anything).Return("not json", nil)
	err := HandleAnalysis(test.Ctx(t), newTestMsg(TypeShortSummary, TypeTopics), srvData)
	assert.NotNil(t, err)
	count := 0
	for _, c := range dbMock.Calls {
		if c.Method == "UpsertAnalysis" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	// event still reports the finished type
	require.Equal(t, 1, len(senderMock.Calls))
}

func Test_HandleAnalysis_StripsFence(t *testing.T) {
	initTest(t)
	aiMock.ExpectedCalls = nil
	aiMock.On("Model").Return("test-model")
	aiMock.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("```json\n{\"topics\":[]}\n```", nil)
	err := HandleAnalysis(test.Ctx(t), newTestMsg(TypeTopics), srvData)
	assert.Nil(t, err)
	var a *persistence.Analysis
	for _, c := range dbMock.Calls {
		if c.Method == "UpsertAnalysis" {
			a = c.Arguments[1].(*persistence.Analysis)
		}
	}
	require.NotNil(t, a)
	assert.Equal(t, `{"topics":[]}`, a.Content)
}

func Test_HandleAnalysis_UnknownTypeSkipped(t *testing.T) {
	initTest(t)
	err := HandleAnalysis(test.Ctx(t), newTestMsg("olia"), srvData)
	assert.Nil(t, err)
	aiMock.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, len(senderMock.Calls))
}

func Test_HandleAnalysis_EmptyTranscript(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadJob", mock.Anything, "1").Return(&persistence.Job{ID: "1", UserID: "u1",
		Status: status.Completed.String(), Segments: []persistence.Segment{{Text: "  "}}}, nil)
	err := HandleAnalysis(test.Ctx(t), newTestMsg(TypeShortSummary), srvData)
	assert.Nil(t, err)
	aiMock.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func Test_HandleAnalysis_NotCompleted(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadJob", mock.Anything, "1").Return(&persistence.Job{ID: "1",
		Status: status.Processing.String()}, nil)
	err := HandleAnalysis(test.Ctx(t), newTestMsg(TypeShortSummary), srvData)
	assert.Nil(t, err)
	aiMock.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func Test_HandleAnalysis_NoJob(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadJob", mock.Anything, "1").Return(nil, nil)
	err := HandleAnalysis(test.Ctx(t), newTestMsg(TypeShortSummary), srvData)
	assert.Nil(t, err)
}

func Test_HandleAnalysis_GeneratesPerLanguage(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadJob", mock.Anything, "1").Return(&persistence.Job{ID: "1", UserID: "u1",
		Status: status.Completed.String(), SourceLang: utils.ToSQLStr("en"),
		TranslatedLangs: []string{"fr"},
		Segments:        []persistence.Segment{{Text: "hello"}}}, nil)
	dbMock.On("UpsertAnalysis", mock.Anything, mock.Anything).Return(nil)
	aiMock.ExpectedCalls = nil
	aiMock.On("Model").Return("test-model")
	aiMock.On("Generate", mock.Anything, prompts[TypeShortSummary].prompt("en"), mock.Anything).Return("a summary", nil)
	aiMock.On("Generate", mock.Anything, prompts[TypeShortSummary].prompt("fr"), mock.Anything).Return("un résumé", nil)
	err := HandleAnalysis(test.Ctx(t), newTestMsg(TypeShortSummary), srvData)
	assert.Nil(t, err)
	count := 0
	for _, c := range aiMock.Calls {
		if c.Method == "Generate" {
			count++
		}
	}
	assert.Equal(t, 2, count)
	var a *persistence.Analysis
	for _, c := range dbMock.Calls {
		if c.Method == "UpsertAnalysis" {
			a = c.Arguments[1].(*persistence.Analysis)
		}
	}
	require.NotNil(t, a)
	assert.Equal(t, "a summary", a.Content)
	assert.Equal(t, map[string]string{"fr": "un résumé"}, a.Translations)
	translatorMock.AssertNotCalled(t, "Translate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func Test_HandleAnalysis_LanguageFailureKept(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadJob", mock.Anything, "1").Return(&persistence.Job{ID: "1", UserID: "u1",
		Status: status.Completed.String(), SourceLang: utils.ToSQLStr("en"),
		TranslatedLangs: []string{"fr"},
		Segments:        []persistence.Segment{{Text: "hello"}}}, nil)
	dbMock.On("UpsertAnalysis", mock.Anything, mock.Anything).Return(nil)
	aiMock.ExpectedCalls = nil
	aiMock.On("Model").Return("test-model")
	aiMock.On("Generate", mock.Anything, prompts[TypeSentiment].prompt("en"), mock.Anything).Return(`{"sentiment":"neutral"}`, nil)
	aiMock.On("Generate", mock.Anything, prompts[TypeSentiment].prompt("fr"), mock.Anything).Return("", fmt.Errorf("olia"))
	err := HandleAnalysis(test.Ctx(t), newTestMsg(TypeSentiment), srvData)
	assert.Nil(t, err)
	var a *persistence.Analysis
	for _, c := range dbMock.Calls {
		if c.Method == "UpsertAnalysis" {
			a = c.Arguments[1].(*persistence.Analysis)
		}
	}
	require.NotNil(t, a)
	assert.Equal(t, `{"sentiment":"neutral"}`, a.Content)
	assert.Equal(t, map[string]string{}, a.Translations)
}

func Test_HandleAnalysis_SourceLanguageFails(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadJob", mock.Anything, "1").Return(&persistence.Job{ID: "1", UserID: "u1",
		Status: status.Completed.String(), SourceLang: utils.ToSQLStr("en"),
		TranslatedLangs: []string{"fr"},
		Segments:        []persistence.Segment{{Text: "hello"}}}, nil)
	aiMock.ExpectedCalls = nil
	aiMock.On("Model").Return("test-model")
	aiMock.On("Generate", mock.Anything, prompts[TypeShortSummary].prompt("en"), mock.Anything).Return("", fmt.Errorf("olia"))
	aiMock.On("Generate", mock.Anything, prompts[TypeShortSummary].prompt("fr"), mock.Anything).Return("un résumé", nil)
	err := HandleAnalysis(test.Ctx(t), newTestMsg(TypeShortSummary), srvData)
	assert.NotNil(t, err)
	dbMock.AssertNotCalled(t, "UpsertAnalysis", mock.Anything, mock.Anything)
	assert.Equal(t, 0, len(senderMock.Calls))
}

func Test_TranslateAnalyses(t *testing.T) {
	initTest(t)
	dbMock.On("LoadAnalyses", mock.Anything, "1").Return([]persistence.Analysis{
		{ID: "a1", JobID: "1", Type: TypeShortSummary, Content: "a summary"},
		{ID: "a2", JobID: "1", Type: TypeTopics, Content: `{"topics":[{"name":"One","description":"First"}]}`}}, nil)
	dbMock.On("UpdateAnalysisTranslations", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	translatorMock.On("Translate", mock.Anything, []string{"a summary"}, "en", "fr").Return([]string{"un résumé"}, nil)
	translatorMock.On("Translate", mock.Anything, []string{"First", "One"}, "en", "fr").Return([]string{"Premier", "Un"}, nil)
	err := srvData.TranslateAnalyses(test.Ctx(t), "1", "en", "fr")
	assert.Nil(t, err)
	translations := map[string]map[string]string{}
	for _, c := range dbMock.Calls {
		if c.Method == "UpdateAnalysisTranslations" {
			translations[c.Arguments[1].(string)] = c.Arguments[2].(map[string]string)
		}
	}
	require.Equal(t, 2, len(translations))
	assert.Equal(t, map[string]string{"fr": "un résumé"}, translations["a1"])
	assert.Equal(t, map[string]string{"fr": `{"topics":[{"description":"Premier","name":"Un"}]}`}, translations["a2"])
}

func Test_TranslateAnalyses_SkipsExisting(t *testing.T) {
	initTest(t)
	dbMock.On("LoadAnalyses", mock.Anything, "1").Return([]persistence.Analysis{
		{ID: "a1", JobID: "1", Type: TypeShortSummary, Content: "a summary",
			Translations: map[string]string{"fr": "un résumé"}},
		{ID: "a2", JobID: "1", Type: TypeLongSummary, Content: ""}}, nil)
	err := srvData.TranslateAnalyses(test.Ctx(t), "1", "en", "fr")
	assert.Nil(t, err)
	translatorMock.AssertNotCalled(t, "Translate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	dbMock.AssertNotCalled(t, "UpdateAnalysisTranslations", mock.Anything, mock.Anything, mock.Anything)
}

func Test_TranslateAnalyses_Empty(t *testing.T) {
	initTest(t)
	dbMock.On("LoadAnalyses", mock.Anything, "1").Return(nil, nil)
	err := srvData.TranslateAnalyses(test.Ctx(t), "1", "en", "fr")
	assert.Nil(t, err)
}

func Test_TranslateAnalyses_Fails(t *testing.T) {
	initTest(t)
	dbMock.On("LoadAnalyses", mock.Anything, "1").Return([]persistence.Analysis{
		{ID: "a1", JobID: "1", Type: TypeShortSummary, Content: "a summary"}}, nil)
	translatorMock.On("Translate", mock.Anything, mock.Anything, "en", "fr").Return(nil, fmt.Errorf("olia"))
	err := srvData.TranslateAnalyses(test.Ctx(t), "1", "en", "fr")
	assert.NotNil(t, err)
	dbMock.AssertNotCalled(t, "UpdateAnalysisTranslations", mock.Anything, mock.Anything, mock.Anything)
}

func Test_Validate(t *testing.T) {
	initTest(t)
	assert.Nil(t, Validate(srvData))
	srvData.AI = nil
	assert.NotNil(t, Validate(srvData))
	assert.NotNil(t, Validate(nil))
}
