package finalize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/callintake/pkg/cases"
)

// Registration payload constants.
const (
	ReferenceLength = 15
	MessageType     = "voice_ai_112"
	TimestampLayout = "02.01.2006 15:04"
)

// RegistrarConfig configures the external registry client.
type RegistrarConfig struct {
	// BaseURL of the registry, e.g. "http://127.0.0.1:8000".
	BaseURL             string
	OrganizationID      string
	ClassificationCodes []string
	// ReferencePrefix starts every generated reference number. It must be
	// shorter than [ReferenceLength] and consist of digits.
	ReferencePrefix string
	// Timeout bounds each HTTP request. Defaults to 15s.
	Timeout time.Duration
	// Location formats registered_at. Defaults to time.Local.
	Location *time.Location
}

// Payload is the body of POST /api/incidents/create.
type Payload struct {
	ReferenceNumber     string   `json:"reference_number"`
	OrganizationID      string   `json:"organization_id"`
	District            string   `json:"district"`
	RegisteredAt        string   `json:"registered_at"`
	EventDescription    string   `json:"event_description"`
	ClassificationCodes []string `json:"classification_codes"`
	AudioFile           string   `json:"audio_file,omitempty"`
	MessageType         string   `json:"message_type"`
	CallerPhone         string   `json:"caller_phone"`
	Priority            string   `json:"priority,omitempty"`
	Category            string   `json:"category,omitempty"`
	CallID              string   `json:"call_id"`
}

// Registration is the outcome of a successful [Registrar.Register].
type Registration struct {
	ReferenceNumber string
	AudioFile       string
	// UploadErr is set when the audio upload failed and the incident was
	// submitted without it.
	UploadErr error
}

// Registrar submits finished calls to the external incident registry.
type Registrar struct {
	cfg    RegistrarConfig
	client *http.Client
	digit  func() int
	now    func() time.Time
}

// NewRegistrar validates cfg and returns a Registrar.
func NewRegistrar(cfg RegistrarConfig) (*Registrar, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("finalize: registrar base URL is required")
	}
	if len(cfg.ReferencePrefix) >= ReferenceLength {
		return nil, fmt.Errorf("finalize: reference prefix %q must be shorter than %d", cfg.ReferencePrefix, ReferenceLength)
	}
	for _, r := range cfg.ReferencePrefix {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("finalize: reference prefix %q must be digits", cfg.ReferencePrefix)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Registrar{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		digit:  func() int { return rand.IntN(10) },
		now:    time.Now,
	}, nil
}

// ReferenceNumber returns the prefix followed by random digits, exactly
// [ReferenceLength] characters long.
func (r *Registrar) ReferenceNumber() string {
	var sb strings.Builder
	sb.WriteString(r.cfg.ReferencePrefix)
	for sb.Len() < ReferenceLength {
		sb.WriteByte(byte('0' + r.digit()))
	}
	return sb.String()
}

// Register uploads the last captured audio, if any, and submits the
// registration payload for c. A failed upload does not stop the submission.
func (r *Registrar) Register(ctx context.Context, snap Snapshot, c cases.Case) (Registration, error) {
	var (
		audioFile string
		uploadErr error
	)
	if snap.LastAudio != nil && snap.LastAudio.Path != "" {
		audioFile, uploadErr = r.upload(ctx, snap.LastAudio.Path)
	}

	phone := c.PhoneNumber
	if phone == "" {
		phone = cases.UnknownPhone
	}
	at := snap.EndedAt
	if at.IsZero() {
		at = r.now()
	}
	p := Payload{
		ReferenceNumber:     r.ReferenceNumber(),
		OrganizationID:      r.cfg.OrganizationID,
		District:            c.District,
		RegisteredAt:        at.In(r.cfg.Location).Format(TimestampLayout),
		EventDescription:    c.Description,
		ClassificationCodes: r.cfg.ClassificationCodes,
		AudioFile:           audioFile,
		MessageType:         MessageType,
		CallerPhone:         phone,
		Priority:            c.Priority,
		Category:            c.Category,
		CallID:              snap.SessionID,
	}
	if p.ClassificationCodes == nil {
		p.ClassificationCodes = []string{}
	}

	body, err := json.Marshal(p)
	if err != nil {
		return Registration{}, fmt.Errorf("finalize: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/api/incidents/create", bytes.NewReader(body))
	if err != nil {
		return Registration{}, fmt.Errorf("finalize: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := r.do(req, nil); err != nil {
		return Registration{}, fmt.Errorf("finalize: create incident: %w", err)
	}
	return Registration{ReferenceNumber: p.ReferenceNumber, AudioFile: audioFile, UploadErr: uploadErr}, nil
}

// upload posts the file at path and returns the name the registry stored it
// under.
func (r *Registrar) upload(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("finalize: read audio: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("finalize: create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("finalize: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalize: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/api/files/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("finalize: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Filename string `json:"filename"`
		FileName string `json:"file_name"`
		Path     string `json:"path"`
	}
	if err := r.do(req, &resp); err != nil {
		return "", fmt.Errorf("finalize: upload audio: %w", err)
	}
	switch {
	case resp.Filename != "":
		return resp.Filename, nil
	case resp.FileName != "":
		return resp.FileName, nil
	case resp.Path != "":
		return resp.Path, nil
	}
	return filepath.Base(path), nil
}

// do sends req and decodes a JSON response into out when out is non-nil.
// An empty or non-JSON success body is not an error.
func (r *Registrar) do(req *http.Request, out any) error {
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out != nil && len(body) > 0 {
		_ = json.Unmarshal(body, out)
	}
	return nil
}
