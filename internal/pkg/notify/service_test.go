package notify

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/status"
	"github.com/scribehub/scribe/internal/pkg/test"
	"github.com/scribehub/scribe/internal/pkg/test/mocks"
	"github.com/scribehub/scribe/internal/pkg/utils"
)

var (
	dbMock *mocks.DB
	tData  *Data
	tEcho  *echo.Echo
)

func initTest(t *testing.T) {
	dbMock = &mocks.DB{}
	tData = &Data{}
	tData.DB = dbMock
	tData.WSHandler = NewWSConnKeeper()
	tEcho = initRoutes(tData)
	dbMock.On("LoadJob", mock.Anything, "1").Return(&persistence.Job{ID: "1",
		Status: status.Completed.String(), SourceLang: utils.ToSQLStr("en"),
		TranslatedLangs: []string{"fr"}, DurationSec: utils.ToSQLFloat(60)}, nil)
}

func TestWrongPath(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/invalid", nil)
	test.Code(t, tEcho, req, 404)
}

func TestWrongMethod(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodPost, "/status/1", nil)
	test.Code(t, tEcho, req, 405)
}

func Test_Status_Returns(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/status/1", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	res := test.Decode[result](t, resp.Result().Body)
	assert.Equal(t, result{ID: "1", Status: "Completed", SourceLang: "en",
		TranslatedLangs: []string{"fr"}, DurationSec: 60}, res)
}

func Test_Status_NotFound(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadJob", mock.Anything, "2").Return(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/status/2", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	res := test.Decode[result](t, resp.Result().Body)
	assert.Equal(t, result{ID: "2", Status: "NOT_FOUND", Error: "NOT_FOUND"}, res)
}

func Test_Status_Fail(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadJob", mock.Anything, "1").Return(nil, fmt.Errorf("olia"))
	req := httptest.NewRequest(http.MethodGet, "/status/1", nil)
	test.Code(t, tEcho, req, http.StatusInternalServerError)
}

func Test_Live(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	test.Code(t, tEcho, req, 200)
}

func Test_validate(t *testing.T) {
	initTest(t)
	assert.Nil(t, validate(tData))
	tData.DB = nil
	assert.NotNil(t, validate(tData))
	initTest(t)
	tData.WSHandler = nil
	assert.NotNil(t, validate(tData))
}
