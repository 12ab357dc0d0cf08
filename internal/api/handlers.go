package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/shineum/contact-mailer/internal/contact"
	"github.com/shineum/contact-mailer/internal/dispatch"
	"github.com/shineum/contact-mailer/internal/email"
	"github.com/shineum/contact-mailer/internal/render"
)

// multipartMemory is the in-memory budget for multipart parsing; the body
// itself is bounded by limitBody.
const multipartMemory = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUploadContacts parses the uploaded "file" into normalized contacts.
func (s *Server) handleUploadContacts(w http.ResponseWriter, r *http.Request) error {
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return formFileError("file", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}

	contacts, err := s.svc.Ingest(hdr.Filename, data)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, contacts)
	return nil
}

// handlePreviewEmail renders the templates against the sample fields in the
// form.
func (s *Server) handlePreviewEmail(w http.ResponseWriter, r *http.Request) error {
	if err := parseForm(r); err != nil {
		return err
	}

	t := render.Template{
		Subject: r.FormValue("subject_template"),
		Body:    r.FormValue("body_template"),
	}
	if t.Subject == "" && t.Body == "" {
		t = s.svc.DefaultTemplate()
	}

	sample := render.Fields{
		contact.FieldName:        r.FormValue("name"),
		contact.FieldEmail:       r.FormValue("email"),
		contact.FieldDesignation: r.FormValue("designation"),
		contact.FieldLinkedIn:    r.FormValue("linkedin"),
	}
	writeJSON(w, http.StatusOK, s.svc.Preview(t, sample))
	return nil
}

// handleSendEmails dispatches one batch described by the "config" and
// "contacts" JSON fields, with an optional "attachment" file.
func (s *Server) handleSendEmails(w http.ResponseWriter, r *http.Request) error {
	if err := parseForm(r); err != nil {
		return err
	}

	rawConfig, ok := formField(r, "config")
	if !ok {
		return badRequest(`missing form field "config"`, nil)
	}
	rawContacts, ok := formField(r, "contacts")
	if !ok {
		return badRequest(`missing form field "contacts"`, nil)
	}

	var cfg dispatch.EmailConfig
	if err := json.Unmarshal([]byte(rawConfig), &cfg); err != nil {
		return badRequest("Invalid JSON data", err)
	}
	var contacts []contact.Contact
	if err := json.Unmarshal([]byte(rawContacts), &contacts); err != nil {
		return badRequest("Invalid JSON data", err)
	}

	att, err := attachment(r)
	if err != nil {
		return err
	}

	// A batch runs to completion even if the client goes away.
	rep, err := s.svc.Send(context.WithoutCancel(r.Context()), cfg, contacts, att)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rep)
	return nil
}

func parseForm(r *http.Request) error {
	err := r.ParseMultipartForm(multipartMemory)
	if err == nil || errors.Is(err, http.ErrNotMultipart) {
		if err := r.ParseForm(); err != nil {
			return badRequestOrLimit("malformed form body", err)
		}
		return nil
	}
	return badRequestOrLimit("malformed multipart body", err)
}

// badRequestOrLimit keeps body-size errors visible to statusFor.
func badRequestOrLimit(detail string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return badRequest(detail, err)
}

func formField(r *http.Request, key string) (string, bool) {
	if r.MultipartForm != nil {
		if v, ok := r.MultipartForm.Value[key]; ok && len(v) > 0 {
			return v[0], true
		}
	}
	if v, ok := r.PostForm[key]; ok && len(v) > 0 {
		return v[0], true
	}
	return "", false
}

func attachment(r *http.Request) (*email.Attachment, error) {
	f, hdr, err := r.FormFile("attachment")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, formFileError("attachment", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return email.NewAttachment(hdr.Filename, data), nil
}

func formFileError(field string, err error) error {
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return badRequest(fmt.Sprintf("missing file field %q", field), err)
	}
	return badRequestOrLimit("malformed multipart body", err)
}
