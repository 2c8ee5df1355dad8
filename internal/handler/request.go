package handler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/siftbeam/upload-pipeline/internal/domain"
	"github.com/siftbeam/upload-pipeline/internal/intake"
)

// uploadRequest is the JSON form of POST /upload.
type uploadRequest struct {
	Files     []uploadFile `json:"files"`
	FilePaths []string     `json:"filePaths"`
}

type uploadFile struct {
	FileName    string `json:"fileName"`
	FileData    string `json:"fileData"`
	ContentType string `json:"contentType"`
}

// presignRequest is the body of POST /generate-upload-urls.
type presignRequest struct {
	Files []struct {
		FileName string `json:"fileName"`
	} `json:"files"`
}

// parsedUpload holds either inline files or paths to read.
type parsedUpload struct {
	files []intake.File
	paths []string
}

func parseUpload(req events.APIGatewayProxyRequest) (*parsedUpload, error) {
	body, err := requestBody(req)
	if err != nil {
		return nil, err
	}

	contentType := header(req, "Content-Type")
	mediaType := ""
	if contentType != "" {
		mediaType, _, _ = mime.ParseMediaType(contentType)
	}

	switch mediaType {
	case "multipart/form-data":
		files, err := parseMultipart(body, contentType)
		if err != nil {
			return nil, err
		}
		return &parsedUpload{files: files}, nil
	case "application/json":
		return parseJSONUpload(body)
	default:
		file, err := parseRawUpload(req, body, contentType)
		if err != nil {
			return nil, err
		}
		return &parsedUpload{files: []intake.File{*file}}, nil
	}
}

func parseJSONUpload(body []byte) (*parsedUpload, error) {
	var r uploadRequest
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, domain.NewValidationError("invalid JSON body: %v", err)
	}

	switch {
	case len(r.Files) > 0 && len(r.FilePaths) > 0:
		return nil, domain.NewValidationError("specify either files or filePaths, not both")
	case len(r.FilePaths) > 0:
		return &parsedUpload{paths: r.FilePaths}, nil
	case len(r.Files) == 0:
		return nil, domain.NewValidationError("no files specified")
	}

	files := make([]intake.File, 0, len(r.Files))
	for _, f := range r.Files {
		if f.FileData == "" {
			return nil, domain.NewValidationError("no data for file %q", f.FileName)
		}
		data, err := base64.StdEncoding.DecodeString(f.FileData)
		if err != nil {
			return nil, domain.NewValidationError("file %q is not valid base64: %v", f.FileName, err)
		}
		files = append(files, intake.File{Name: f.FileName, Data: data, ContentType: f.ContentType})
	}
	return &parsedUpload{files: files}, nil
}

// parseMultipart returns every part that carries a file name. Parts are read
// up to one byte past the size ceiling so oversized files are still rejected
// by intake.
func parseMultipart(body []byte, contentType string) ([]intake.File, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, domain.NewValidationError("invalid Content-Type: %v", err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, domain.NewValidationError("multipart boundary is missing")
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	var files []intake.File
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.NewValidationError("invalid multipart body: %v", err)
		}

		name := part.FileName()
		if name == "" {
			part.Close()
			continue
		}
		data, err := io.ReadAll(io.LimitReader(part, intake.MaxFileSize+1))
		part.Close()
		if err != nil {
			return nil, domain.NewValidationError("failed to read file %q: %v", name, err)
		}
		files = append(files, intake.File{Name: name, Data: data, ContentType: part.Header.Get("Content-Type")})
	}
	return files, nil
}

func parseRawUpload(req events.APIGatewayProxyRequest, body []byte, contentType string) (*intake.File, error) {
	name := req.QueryStringParameters["fileName"]
	if name == "" {
		name = header(req, "x-file-name")
	}
	if name == "" {
		return nil, domain.NewValidationError("file name is required: set the fileName query parameter or the x-file-name header")
	}
	if len(body) == 0 {
		return nil, domain.NewValidationError("request body is empty")
	}

	mediaType := ""
	if contentType != "" {
		mediaType, _, _ = mime.ParseMediaType(contentType)
	}
	return &intake.File{Name: name, Data: body, ContentType: mediaType}, nil
}

func parsePresign(req events.APIGatewayProxyRequest) ([]string, error) {
	body, err := requestBody(req)
	if err != nil {
		return nil, err
	}
	var r presignRequest
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, domain.NewValidationError("request body must be JSON: %v", err)
	}
	if len(r.Files) == 0 {
		return nil, domain.NewValidationError("no files specified")
	}

	names := make([]string, len(r.Files))
	for i, f := range r.Files {
		names[i] = f.FileName
	}
	return names, nil
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	data, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return nil, domain.NewValidationError("body is not valid base64: %v", err)
	}
	return data, nil
}

// header looks up a request header ignoring case.
func header(req events.APIGatewayProxyRequest, name string) string {
	if v, ok := req.Headers[name]; ok {
		return v
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
