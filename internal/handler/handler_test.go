package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/siftbeam/upload-pipeline/internal/domain"
	"github.com/siftbeam/upload-pipeline/internal/intake"
	"github.com/siftbeam/upload-pipeline/internal/memstore"
)

type fakeIntake struct {
	principal intake.Principal
	files     []intake.File
	paths     []string
	names     []string
	err       error
}

func (f *fakeIntake) Upload(_ context.Context, p intake.Principal, files []intake.File) (*intake.UploadResult, error) {
	f.principal, f.files = p, files
	if f.err != nil {
		return nil, f.err
	}
	res := &intake.UploadResult{ProcessingHistoryID: "hist_1", Status: domain.StatusInProgress}
	for _, file := range files {
		res.Files = append(res.Files, intake.UploadedFile{FileName: file.Name, FileSize: int64(len(file.Data))})
	}
	return res, nil
}

func (f *fakeIntake) UploadPaths(_ context.Context, p intake.Principal, paths []string) (*intake.UploadResult, error) {
	f.principal, f.paths = p, paths
	if f.err != nil {
		return nil, f.err
	}
	return &intake.UploadResult{ProcessingHistoryID: "hist_1", Files: make([]intake.UploadedFile, len(paths))}, nil
}

func (f *fakeIntake) Presign(_ context.Context, p intake.Principal, names []string) (*intake.PresignResult, error) {
	f.principal, f.names = p, names
	if f.err != nil {
		return nil, f.err
	}
	return &intake.PresignResult{ProcessingHistoryID: "hist_1", UploadURLs: make([]intake.UploadURL, len(names))}, nil
}

func request(body string, headers map[string]string) events.APIGatewayProxyRequest {
	req := events.APIGatewayProxyRequest{
		HTTPMethod: "POST",
		Path:       "/upload",
		Headers:    headers,
		Body:       body,
	}
	req.RequestContext.Identity.APIKeyID = "key_1"
	return req
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestUpload_JSONFiles(t *testing.T) {
	svc := &fakeIntake{}
	h := New(svc, zap.NewNop())

	body := `{"files":[{"fileName":"a.png","fileData":"` + b64("hello") + `","contentType":"image/png"},{"fileName":"b.txt","fileData":"` + b64("hi") + `"}]}`
	resp, err := h.Upload(context.Background(), request(body, map[string]string{"content-type": "application/json"}))
	if err != nil {
		t.Fatalf("Upload() unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, body %s", resp.StatusCode, resp.Body)
	}

	if svc.principal.APIKeyID != "key_1" {
		t.Errorf("principal = %+v", svc.principal)
	}
	if len(svc.files) != 2 || string(svc.files[0].Data) != "hello" || svc.files[0].ContentType != "image/png" {
		t.Errorf("files = %+v", svc.files)
	}

	var got SuccessBody
	if err := json.Unmarshal([]byte(resp.Body), &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if !got.Success || got.Message != "2 file(s) uploaded" {
		t.Errorf("body = %+v", got)
	}
	if data := got.Data.(map[string]any); data["processingHistoryId"] != "hist_1" {
		t.Errorf("data = %v", data)
	}
}

func TestUpload_FilePaths(t *testing.T) {
	svc := &fakeIntake{}
	h := New(svc, zap.NewNop())

	resp, _ := h.Upload(context.Background(), request(`{"filePaths":["/tmp/a.png","/tmp/b.png"]}`, map[string]string{"Content-Type": "application/json; charset=utf-8"}))
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, body %s", resp.StatusCode, resp.Body)
	}
	if len(svc.paths) != 2 || svc.files != nil {
		t.Errorf("paths = %v, files = %v", svc.paths, svc.files)
	}
}

func TestUpload_Multipart(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("note", "ignored"); err != nil {
		t.Fatal(err)
	}
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="files"; filename="scan.png"`},
		"Content-Type":        {"image/png"},
	})
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("png-bytes"))
	fw, err := w.CreateFormFile("files", "doc.pdf")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("pdf-bytes"))
	w.Close()

	tests := []struct {
		name    string
		encoded bool
	}{
		{"plain body", false},
		{"base64 body", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeIntake{}
			body := buf.String()
			req := request(body, map[string]string{"Content-Type": w.FormDataContentType()})
			if tt.encoded {
				req.Body = b64(body)
				req.IsBase64Encoded = true
			}

			resp, _ := New(svc, zap.NewNop()).Upload(context.Background(), req)
			if resp.StatusCode != 200 {
				t.Fatalf("StatusCode = %d, body %s", resp.StatusCode, resp.Body)
			}
			if len(svc.files) != 2 {
				t.Fatalf("files = %+v, want 2", svc.files)
			}
			if svc.files[0].Name != "scan.png" || svc.files[0].ContentType != "image/png" || string(svc.files[0].Data) != "png-bytes" {
				t.Errorf("first file = %+v", svc.files[0])
			}
			if svc.files[1].Name != "doc.pdf" || string(svc.files[1].Data) != "pdf-bytes" {
				t.Errorf("second file = %+v", svc.files[1])
			}
		})
	}
}

func TestUpload_RawBody(t *testing.T) {
	tests := []struct {
		name     string
		query    map[string]string
		headers  map[string]string
		wantName string
		wantType string
	}{
		{"query parameter", map[string]string{"fileName": "a.png"}, map[string]string{"Content-Type": "image/png"}, "a.png", "image/png"},
		{"header", nil, map[string]string{"X-File-Name": "b.pdf"}, "b.pdf", ""},
		{"query wins", map[string]string{"fileName": "c.png"}, map[string]string{"x-file-name": "d.png"}, "c.png", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeIntake{}
			req := request("raw-bytes", tt.headers)
			req.QueryStringParameters = tt.query

			resp, _ := New(svc, zap.NewNop()).Upload(context.Background(), req)
			if resp.StatusCode != 200 {
				t.Fatalf("StatusCode = %d, body %s", resp.StatusCode, resp.Body)
			}
			if len(svc.files) != 1 || svc.files[0].Name != tt.wantName || svc.files[0].ContentType != tt.wantType {
				t.Errorf("files = %+v", svc.files)
			}
		})
	}
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name       string
		req        func() events.APIGatewayProxyRequest
		serviceErr error
		wantStatus int
		wantError  string
	}{
		{
			name: "missing api key",
			req: func() events.APIGatewayProxyRequest {
				r := request(`{"files":[]}`, map[string]string{"Content-Type": "application/json"})
				r.RequestContext.Identity.APIKeyID = ""
				return r
			},
			wantStatus: 401,
			wantError:  "Unauthorized",
		},
		{
			name:       "invalid json",
			req:        func() events.APIGatewayProxyRequest { return request(`{`, map[string]string{"Content-Type": "application/json"}) },
			wantStatus: 400,
			wantError:  "Bad Request",
		},
		{
			name:       "no files",
			req:        func() events.APIGatewayProxyRequest { return request(`{}`, map[string]string{"Content-Type": "application/json"}) },
			wantStatus: 400,
			wantError:  "Bad Request",
		},
		{
			name: "files and paths",
			req: func() events.APIGatewayProxyRequest {
				return request(`{"files":[{"fileName":"a","fileData":"YQ=="}],"filePaths":["/a"]}`, map[string]string{"Content-Type": "application/json"})
			},
			wantStatus: 400,
			wantError:  "Bad Request",
		},
		{
			name: "missing file data",
			req: func() events.APIGatewayProxyRequest {
				return request(`{"files":[{"fileName":"a.png"}]}`, map[string]string{"Content-Type": "application/json"})
			},
			wantStatus: 400,
			wantError:  "Bad Request",
		},
		{
			name: "bad base64",
			req: func() events.APIGatewayProxyRequest {
				return request(`{"files":[{"fileName":"a.png","fileData":"***"}]}`, map[string]string{"Content-Type": "application/json"})
			},
			wantStatus: 400,
			wantError:  "Bad Request",
		},
		{
			name:       "raw body without name",
			req:        func() events.APIGatewayProxyRequest { return request("bytes", nil) },
			wantStatus: 400,
			wantError:  "Bad Request",
		},
		{
			name: "raw body empty",
			req: func() events.APIGatewayProxyRequest {
				return request("", map[string]string{"x-file-name": "a.png"})
			},
			wantStatus: 400,
			wantError:  "Bad Request",
		},
		{
			name: "multipart without boundary",
			req: func() events.APIGatewayProxyRequest {
				return request("--x--", map[string]string{"Content-Type": "multipart/form-data"})
			},
			wantStatus: 400,
			wantError:  "Bad Request",
		},
		{
			name: "unknown api key",
			req: func() events.APIGatewayProxyRequest {
				return request("bytes", map[string]string{"x-file-name": "a.png"})
			},
			serviceErr: &domain.NotFoundError{Resource: "api key", ID: "key_1"},
			wantStatus: 404,
			wantError:  "Not Found",
		},
		{
			name: "too many files",
			req: func() events.APIGatewayProxyRequest {
				return request("bytes", map[string]string{"x-file-name": "a.png"})
			},
			serviceErr: domain.NewValidationError("too many files: 11 (max 10)"),
			wantStatus: 400,
			wantError:  "Bad Request",
		},
		{
			name: "dependency failure",
			req: func() events.APIGatewayProxyRequest {
				return request("bytes", map[string]string{"x-file-name": "a.png"})
			},
			serviceErr: domain.DependencyError("put object", errors.New("secret internal detail")),
			wantStatus: 500,
			wantError:  "Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&fakeIntake{err: tt.serviceErr}, zap.NewNop())
			resp, err := h.Upload(context.Background(), tt.req())
			if err != nil {
				t.Fatalf("Upload() unexpected error: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d (body %s)", resp.StatusCode, tt.wantStatus, resp.Body)
			}

			var body ErrorBody
			if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if body.Error != tt.wantError || body.Message == "" {
				t.Errorf("body = %+v, want error %q", body, tt.wantError)
			}
			if strings.Contains(resp.Body, "secret internal detail") {
				t.Error("internal error details leaked")
			}
			if resp.Headers["Access-Control-Allow-Origin"] != "*" {
				t.Errorf("missing CORS headers: %v", resp.Headers)
			}
		})
	}
}

func TestUpload_Options(t *testing.T) {
	req := request("", nil)
	req.HTTPMethod = "OPTIONS"
	req.RequestContext.Identity.APIKeyID = ""

	resp, _ := New(&fakeIntake{}, zap.NewNop()).Upload(context.Background(), req)
	if resp.StatusCode != 200 || resp.Headers["Access-Control-Allow-Methods"] != "POST,OPTIONS" {
		t.Errorf("preflight = %d %v", resp.StatusCode, resp.Headers)
	}
}

func TestGenerateUploadURLs(t *testing.T) {
	svc := &fakeIntake{}
	h := New(svc, zap.NewNop())

	resp, err := h.GenerateUploadURLs(context.Background(), request(`{"files":[{"fileName":"a.png"},{"fileName":"b.png"}]}`, map[string]string{"Content-Type": "application/json"}))
	if err != nil {
		t.Fatalf("GenerateUploadURLs() unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, body %s", resp.StatusCode, resp.Body)
	}
	if strings.Join(svc.names, ",") != "a.png,b.png" {
		t.Errorf("names = %v", svc.names)
	}
	if !strings.Contains(resp.Body, `"2 upload URL(s) generated"`) {
		t.Errorf("body = %s", resp.Body)
	}

	for _, body := range []string{`not json`, `{"files":[]}`} {
		resp, _ := h.GenerateUploadURLs(context.Background(), request(body, nil))
		if resp.StatusCode != 400 {
			t.Errorf("GenerateUploadURLs(%s) status = %d, want 400", body, resp.StatusCode)
		}
	}
}

// The handler and intake together keep the sentinel last and surface intake
// validation as 400.
func TestUpload_EndToEnd(t *testing.T) {
	journal := &memstore.Journal{}
	identities := memstore.NewIdentityStore()
	identities.APIKeys["key_1"] = domain.APIKey{ID: "key_1", APIName: "batch-api", PolicyID: "pol_1", CustomerID: "cus_1"}
	identities.Policies["pol_1"] = domain.Policy{ID: "pol_1", PolicyName: "Images", AcceptedFileTypes: []string{"image/png"}}
	objects := memstore.NewObjectStore(journal)

	svc := intake.New(identities, memstore.NewHistoryStore(journal), objects, "siftbeam", time.Hour, zap.NewNop(),
		intake.WithIDGenerator(func() string { return "hist_1" }))
	h := New(svc, zap.NewNop())

	body := `{"files":[{"fileName":"icon.png","fileData":"` + b64("a") + `"},{"fileName":"icon2.png","fileData":"` + b64("bb") + `"}]}`
	resp, _ := h.Upload(context.Background(), request(body, map[string]string{"Content-Type": "application/json"}))
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, body %s", resp.StatusCode, resp.Body)
	}
	entries := journal.Entries()
	if len(entries) != 4 || entries[3] != "object:put:service/input/cus_1/hist_1/_trigger.json" {
		t.Errorf("writes = %v", entries)
	}

	files := make([]string, 11)
	for i := range files {
		files[i] = `{"fileName":"f.png","fileData":"YQ=="}`
	}
	resp, _ = h.Upload(context.Background(), request(`{"files":[`+strings.Join(files, ",")+`]}`, map[string]string{"Content-Type": "application/json"}))
	if resp.StatusCode != 400 {
		t.Errorf("eleven files status = %d, want 400", resp.StatusCode)
	}
}
