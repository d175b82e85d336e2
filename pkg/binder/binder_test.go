package binder

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type params struct {
	Hello string `json:"hello" mod:"trim" validate:"max=9"`
	Omit  string `json:"-"`
}

var (
	goodJSON             = `{"hello":" world "}`
	unknownFieldsErrJSON = `{"hello":"world","foo":"bar"}`
	typeErrJSON          = `{"hello":123}`
	validationErrJSON    = `{"hello":"0123456789"}`
)

func TestNew(t *testing.T) {
	t.Parallel()
	b, err := New()
	require.NoError(t, err)
	assert.NotNil(t, b)

	t.Run("only allows application/json and application/x-www-form-urlencoded", func(tt *testing.T) {
		c := newContext(goodJSON, echo.MIMEApplicationXML)
		p := params{}
		err = b.Bind(&p, c)
		assert.Contains(tt, err.Error(), "Unsupported Media Type")
	})

	t.Run("disallows unknown fields", func(tt *testing.T) {
		c := newContext(unknownFieldsErrJSON, echo.MIMEApplicationJSON)
		p := params{}
		err = b.Bind(&p, c)
		assert.Contains(tt, err.Error(), `Unknown Parameter "foo"`)
	})

	t.Run("returns a good message for type errors", func(tt *testing.T) {
		c := newContext(typeErrJSON, echo.MIMEApplicationJSON)
		p := params{}
		err = b.Bind(&p, c)
		assert.Contains(tt, err.Error(), `"hello" should be of type string`)
	})

	t.Run("use mod tag to modify params", func(tt *testing.T) {
		c := newContext(goodJSON, echo.MIMEApplicationJSON)
		p := params{}
		err = b.Bind(&p, c)
		require.NoError(tt, err)
		assert.Equal(tt, "world", p.Hello)
	})

	t.Run("use validate tag to validate params", func(tt *testing.T) {
		c := newContext(validationErrJSON, echo.MIMEApplicationJSON)
		p := params{}
		err = b.Bind(&p, c)
		assert.Contains(tt, err.Error(), "length must be less than or equal to 9 characters")
	})
}

type recordParams struct {
	URI    string `form:"uri" json:"uri" validate:"required,aturi"`
	DID    string `form:"did" json:"did" validate:"omitempty,did"`
	HiveID string `form:"hiveId" json:"hiveId" mod:"trim" validate:"omitempty,hiveid"`
	Cover  string `form:"cover" json:"cover" validate:"omitempty,url"`
}

func TestBind_DomainValidators(t *testing.T) {
	t.Parallel()
	b, err := New()
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"valid", `{"uri":"at://did:plc:alice/buzz.bookhive.book/3kabc","did":"did:web:example.com","hiveId":" bk_abcdefghij0123456789 ","cover":"https://example.com/c.jpg"}`, ""},
		{"bare repo uri", `{"uri":"at://did:plc:alice"}`, `"uri" must be an at:// record URI`},
		{"bad did", `{"uri":"at://did:plc:alice/buzz.bookhive.book/3kabc","did":"alice.bsky.social"}`, `"did" is not a valid DID`},
		{"bad hive id", `{"uri":"at://did:plc:alice/buzz.bookhive.book/3kabc","hiveId":"bk_short"}`, `"hiveId" is not a valid hive ID`},
		{"bad url", `{"uri":"at://did:plc:alice/buzz.bookhive.book/3kabc","cover":"javascript:alert(1)"}`, `"cover" must be an http or https URL`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(tt *testing.T) {
			p := recordParams{}
			err := b.Bind(&p, newContext(tc.payload, echo.MIMEApplicationJSON))
			if tc.want == "" {
				require.NoError(tt, err)
				assert.Equal(tt, "bk_abcdefghij0123456789", p.HiveID)
				return
			}
			require.Error(tt, err)
			assert.Contains(tt, err.Error(), tc.want)
		})
	}
}

func TestBind_FormIgnoresMethodOverride(t *testing.T) {
	t.Parallel()
	b, err := New()
	require.NoError(t, err)

	c := newContext("_method=DELETE&uri=at%3A%2F%2Fdid%3Aplc%3Aalice%2Fbuzz.bookhive.buzz%2F3kabc", echo.MIMEApplicationForm)
	p := recordParams{}
	require.NoError(t, b.Bind(&p, c))
	assert.Equal(t, "at://did:plc:alice/buzz.bookhive.buzz/3kabc", p.URI)
}

func newContext(payload, mime string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(echo.POST, "/", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, mime)
	rr := httptest.NewRecorder()
	return e.NewContext(req, rr)
}
