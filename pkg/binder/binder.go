package binder

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/creasty/defaults"
	"github.com/go-playground/mold/v4"
	"github.com/go-playground/mold/v4/modifiers"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
)

var unknownFieldsRE = regexp.MustCompile(`^json: unknown field "(.*)"$`)

// formFilesField is the struct field multipart uploads are bound into. It
// must be a map[string]*multipart.FileHeader.
const formFilesField = "FormFiles"

// Binder is a custom struct that implements the Echo Binder interface. It binds
// JSON (the mobile app and XRPC clients), urlencoded and multipart forms (the
// web pages) and query strings, uses mold to clean up the params, and
// validator to validate them.
type Binder struct {
	queryDecoder *schema.Decoder
	formDecoder  *schema.Decoder
	conform      *mold.Transformer
	validate     *validator.Validate
}

// New initializes a new Binder instance with the appropriate validation
// functions registered.
func New() (*Binder, error) {
	queryDecoder := schema.NewDecoder()
	queryDecoder.SetAliasTag("query")
	formDecoder := schema.NewDecoder()
	formDecoder.SetAliasTag("form")
	// Browser forms carry extras such as _method and the submit button.
	formDecoder.IgnoreUnknownKeys(true)

	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	validations := map[string]validator.Func{
		"date":   dateValidator,
		"url":    urlValidator,
		"did":    didValidator,
		"aturi":  atURIValidator,
		"hiveid": hiveIDValidator,
	}
	for tag, fn := range validations {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			return nil, errors.Wrapf(err, "register %s validator", tag)
		}
	}

	return &Binder{
		queryDecoder: queryDecoder,
		formDecoder:  formDecoder,
		conform:      modifiers.New(),
		validate:     validate,
	}, nil
}

// Bind binds, modifies, and validates payloads against the given struct.
func (b *Binder) Bind(i interface{}, c echo.Context) error {
	req := c.Request()

	if req.ContentLength > 0 {
		if err := b.bindBody(i, c); err != nil {
			return err
		}
	} else {
		// Query strings only count for reads. Other methods need a body
		// unless the handler opted out.
		switch {
		case req.Method == http.MethodGet || req.Method == http.MethodDelete:
			if err := b.decodeQuery(i, c.QueryParams(), b.queryDecoder); err != nil {
				return errors.WithStack(err)
			}
		case flag(c, "disallow_empty_body", true):
			return errcodes.EmptyRequestBody()
		}
	}

	if err := b.conform.Struct(req.Context(), i); err != nil {
		return errors.WithStack(err)
	}

	if err := defaults.Set(i); err != nil {
		return errors.WithStack(err)
	}

	if err := b.validate.Struct(i); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) || len(errs) == 0 {
			return errors.WithStack(err)
		}
		return errcodes.ValidationError(formatValidationError(errs[0]))
	}
	return nil
}

func (b *Binder) bindBody(i interface{}, c echo.Context) error {
	ctype := c.Request().Header.Get(echo.HeaderContentType)
	switch {
	case strings.HasPrefix(ctype, echo.MIMEApplicationJSON):
		return b.bindJSON(i, c)
	case strings.HasPrefix(ctype, echo.MIMEApplicationForm):
		return b.bindForm(i, c)
	case strings.HasPrefix(ctype, echo.MIMEMultipartForm):
		if err := b.bindForm(i, c); err != nil {
			return err
		}
		form, err := c.MultipartForm()
		if err != nil {
			return errcodes.MalformedPayload()
		}
		bindFormFiles(i, form)
		return nil
	default:
		return errcodes.UnsupportedMediaType()
	}
}

func (b *Binder) bindJSON(i interface{}, c echo.Context) error {
	req := c.Request()
	defer req.Body.Close()

	dec := json.NewDecoder(req.Body)
	if flag(c, "disallow_unknown_fields", true) {
		dec.DisallowUnknownFields()
	}
	err := dec.Decode(i)
	if err == nil {
		return nil
	}

	// return better error message when there are unknown fields
	if matches := unknownFieldsRE.FindStringSubmatch(err.Error()); len(matches) > 1 {
		return errcodes.UnknownParameter(matches[1])
	}

	// return better error message on type errors
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return errcodes.ValidationTypeError(formatUnmarshalTypeError(typeErr))
	}

	logger.FromEchoContext(c).Err(err).Error("unknown json decode error")
	return errcodes.MalformedPayload()
}

func (b *Binder) bindForm(i interface{}, c echo.Context) error {
	params, err := c.FormParams()
	if err != nil {
		return errcodes.MalformedPayload()
	}
	return errors.WithStack(b.decodeQuery(i, params, b.formDecoder))
}

// bindFormFiles puts the first file of every multipart field into the
// target's FormFiles map, when it has one.
func bindFormFiles(i interface{}, form *multipart.Form) {
	field := reflect.ValueOf(i).Elem().FieldByName(formFilesField)
	if !field.IsValid() || !field.CanSet() || len(form.File) == 0 {
		return
	}
	if field.IsNil() {
		field.Set(reflect.MakeMap(field.Type()))
	}
	for key, headers := range form.File {
		if len(headers) > 0 {
			field.SetMapIndex(reflect.ValueOf(key), reflect.ValueOf(headers[0]))
		}
	}
}

func (b *Binder) decodeQuery(i interface{}, params url.Values, decoder *schema.Decoder) error {
	err := decoder.Decode(i, params)
	if err == nil {
		return nil
	}

	var errs schema.MultiError
	if !errors.As(err, &errs) {
		return errors.WithStack(err)
	}
	for _, first := range errs {
		var conv schema.ConversionError
		if errors.As(first, &conv) {
			return errcodes.ValidationTypeError(formatSchemaConversionError(conv))
		}
		var unknown schema.UnknownKeyError
		if errors.As(first, &unknown) {
			return errcodes.UnknownParameter(unknown.Key)
		}
		return errors.WithStack(first)
	}
	return errors.WithStack(err)
}

// flag reads a per-request override set by a handler or middleware.
func flag(c echo.Context, key string, fallback bool) bool {
	if v, ok := c.Get(key).(bool); ok {
		return v
	}
	return fallback
}
