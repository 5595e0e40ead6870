package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	. "github.com/rafikidev/rafiki/apps/api/echo"
	"github.com/rafikidev/rafiki/core"
	"github.com/rafikidev/rafiki/core/assignment"
	"github.com/rafikidev/rafiki/core/curriculum"
	"github.com/rafikidev/rafiki/core/enroll"
	"github.com/rafikidev/rafiki/core/user"
	emailsvc "github.com/rafikidev/rafiki/services/email"
	inmemdb "github.com/rafikidev/rafiki/storage/database/inmem"
	testutil "github.com/rafikidev/rafiki/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type env struct {
	conf *core.Config

	usrRepo    user.Repository
	curRepo    curriculum.Repository
	assignRepo assignment.Repository
	enrollRepo enroll.Repository

	usrSvc    user.ServiceInterface
	curSvc    curriculum.ServiceInterface
	enrollSvc enroll.ServiceInterface
	assignSvc assignment.ServiceInterface
}

type nopLogger struct{}

func (nopLogger) Enable(bool)                 {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func setup(t *testing.T) (*Server, *env) {
	t.Helper()

	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("inmemdb.Open() failed: %v", err)
	}
	conf := testutil.NewTestConfig()

	validate := validator.New()
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	mailSvc := emailsvc.NewConsoleServiceMock(conf)

	e := &env{
		conf:       conf,
		usrRepo:    inmemdb.NewUserRepository(db),
		curRepo:    inmemdb.NewCurriculumRepository(db),
		assignRepo: inmemdb.NewAssignmentRepository(db),
		enrollRepo: inmemdb.NewEnrollRepository(db),
	}
	e.usrSvc = user.NewServiceMock(e.usrRepo, mailSvc, conf)
	e.curSvc = curriculum.NewService(e.curRepo, e.assignRepo)
	e.enrollSvc = enroll.NewService(e.enrollRepo, e.assignRepo, e.curSvc, e.usrSvc, mailSvc, conf)
	e.assignSvc = assignment.NewService(e.assignRepo, e.usrSvc, e.curSvc, e.enrollSvc, mailSvc, validate, conf)

	app := NewServer(
		ServerDeps{
			Conf:           conf,
			Logger:         nopLogger{},
			UserSvc:        e.usrSvc,
			CurriculumSvc:  e.curSvc,
			EnrollSvc:      e.enrollSvc,
			AssignmentSvc:  e.assignSvc,
			Validate:       validate,
			Translator:     translator,
			DisableReqLogs: true,
		},
	)
	return app, e
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	claims := GetUserClaims(conf, usr)
	token, err := GenerateToken(conf, claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
