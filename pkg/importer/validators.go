package importer

import "mime/multipart"

// ImportPayload is the upload form. The binder fills FormFiles with the
// first file of each multipart field.
type ImportPayload struct {
	FormFiles map[string]*multipart.FileHeader `form:"-" json:"-"`
}

const uploadField = "export"
