//go:build smoke

package smoke_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/kirillkom/idverify/internal/core/domain"
)

type smokeConfig struct {
	APIBaseURL     string
	InternalToken  string
	VerifyTimeout  time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
	RequireSettled bool
}

func loadSmokeConfig() smokeConfig {
	return smokeConfig{
		APIBaseURL:     strings.TrimRight(envOr("SMOKE_API_URL", "http://localhost:8080"), "/"),
		InternalToken:  os.Getenv("SMOKE_INTERNAL_TOKEN"),
		VerifyTimeout:  envDuration("SMOKE_VERIFY_TIMEOUT", 90*time.Second),
		PollInterval:   envDuration("SMOKE_POLL_INTERVAL", time.Second),
		RequestTimeout: envDuration("SMOKE_REQUEST_TIMEOUT", 10*time.Second),
		RequireSettled: os.Getenv("SMOKE_REQUIRE_SETTLED") != "0",
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(cfg smokeConfig) *apiClient {
	return &apiClient{baseURL: cfg.APIBaseURL, http: &http.Client{Timeout: cfg.RequestTimeout}}
}

func (c *apiClient) status(method, path string, header http.Header, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, err
}

func (c *apiClient) getJSON(path string, out any) (int, error) {
	code, raw, err := c.status(http.MethodGet, path, nil, nil)
	if err != nil {
		return 0, err
	}
	if code == http.StatusOK && out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return code, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return code, nil
}

func (c *apiClient) upload(docType, userID, filename, contentType string, content []byte) (int, domain.Document, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("documentType", docType); err != nil {
		return 0, domain.Document{}, err
	}
	if err := mw.WriteField("userId", userID); err != nil {
		return 0, domain.Document{}, err
	}
	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	partHeader.Set("Content-Type", contentType)
	part, err := mw.CreatePart(partHeader)
	if err != nil {
		return 0, domain.Document{}, err
	}
	if _, err := part.Write(content); err != nil {
		return 0, domain.Document{}, err
	}
	if err := mw.Close(); err != nil {
		return 0, domain.Document{}, err
	}

	header := http.Header{"Content-Type": []string{mw.FormDataContentType()}}
	code, raw, err := c.status(http.MethodPost, "/v1/documents", header, &body)
	if err != nil {
		return 0, domain.Document{}, err
	}
	var doc domain.Document
	if code == http.StatusAccepted {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return code, doc, fmt.Errorf("decode upload response: %w", err)
		}
	}
	return code, doc, nil
}

const sampleKTP = `PROVINSI DKI JAKARTA
KOTA JAKARTA SELATAN
NIK : 3174012345678901
Nama : BUDI SANTOSO
Tempat/Tgl Lahir : JAKARTA, 17-08-1990
Jenis Kelamin : LAKI-LAKI Gol. Darah : O
Alamat : JL. MERDEKA NO. 10
Agama : ISLAM
Status Perkawinan : KAWIN
Pekerjaan : KARYAWAN SWASTA
Kewarganegaraan : WNI
`
