package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// Limits bounds the post-processing engine: PayloadLimit caps the total
// bytes read from non-file (urlencoded / form-field) content,
// UploadsLimit caps the combined size of all file parts. Zero means
// unbounded.
type Limits struct {
	PayloadLimit uint64
	UploadsLimit uint64
}

// Result is the outcome of post-processing one request body: the
// non-file fields (url-decoded or multipart form fields) and the file
// parts spooled to temp storage as Upload values.
type Result struct {
	Fields  map[string][]string
	Uploads []*Upload
}

// FieldFunc, when non-nil, is invoked once per file part as it begins,
// letting the caller veto it (a non-nil return aborts post-processing
// with that error, discarding all Uploads created so far).
type FieldFunc func(field, filename, mimeType string) error

// Factory constructs the backing Upload for one file part, letting a
// caller supply its own per-upload backing object. Process's default
// factory is newUpload, spooling to a temp file under uploadsDir; a
// caller-supplied Factory can redirect spooling elsewhere (e.g. directly
// to a different filesystem or object store) while the rest of the
// engine -- limits, sniffing, field veto -- stays the same.
type Factory func(uploadsDir, field, filename, mime, encoding string) (*Upload, error)

// Options configures one call to Process.
type Options struct {
	Limits  Limits
	OnField FieldFunc
	// NewUpload overrides how each file part's backing Upload is created.
	// Defaults to spooling a temp file under uploadsDir via newUpload.
	NewUpload Factory
}

// errPayloadTooLarge and errUploadTooLarge carry the fixed error text the
// server passes on to the caller's ErrorFunc when a limit is exceeded.
var (
	errPayloadTooLarge = errors.New("Payload too large.\n")
	errUploadTooLarge  = errors.New("Upload too large.\n")
)

// ErrPayloadTooLarge is returned when non-file content exceeds Limits.PayloadLimit.
var ErrPayloadTooLarge = errPayloadTooLarge

// ErrUploadTooLarge is returned when the combined file-part size exceeds Limits.UploadsLimit.
var ErrUploadTooLarge = errUploadTooLarge

// Process reads body (a urlencoded or multipart/form-data request body,
// as named by contentType) and returns its fields and any spooled file
// parts. uploadsDir is where file parts are spooled; it must already
// exist or be creatable by the caller's os.MkdirAll permissions. No file
// part is ever buffered fully in memory: each file part streams straight
// to its own temp file as it arrives. Form fields and url-encoded bodies
// are read whole, under Limits.PayloadLimit.
func Process(body io.Reader, contentType, uploadsDir string, opts Options) (res *Result, err error) {
	acc := &Result{Fields: map[string][]string{}}
	defer func() {
		if err != nil {
			for _, u := range acc.Uploads {
				u.Discard()
			}
		}
	}()

	factory := opts.NewUpload
	if factory == nil {
		factory = newUpload
	}

	mediaType, params, mErr := mime.ParseMediaType(contentType)
	if mErr != nil {
		return nil, fmt.Errorf("sagui: parse content-type: %w", mErr)
	}

	switch {
	case mediaType == "application/x-www-form-urlencoded":
		return processURLEncoded(body, opts.Limits, acc)
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("sagui: multipart request missing boundary")
		}
		return processMultipart(body, boundary, uploadsDir, opts.Limits, opts.OnField, factory, acc)
	default:
		return nil, fmt.Errorf("sagui: unsupported content-type %q", mediaType)
	}
}

func processURLEncoded(body io.Reader, limits Limits, res *Result) (*Result, error) {
	limited := body
	if limits.PayloadLimit > 0 {
		limited = io.LimitReader(body, int64(limits.PayloadLimit)+1)
	}
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("sagui: read urlencoded body: %w", err)
	}
	if limits.PayloadLimit > 0 && uint64(len(raw)) > limits.PayloadLimit {
		return nil, errPayloadTooLarge
	}
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("sagui: parse urlencoded body: %w", err)
	}
	res.Fields = map[string][]string(values)
	return res, nil
}

func processMultipart(body io.Reader, boundary, uploadsDir string, limits Limits, onField FieldFunc, factory Factory, res *Result) (*Result, error) {
	reader := multipart.NewReader(body, boundary)
	var payloadUsed, uploadsUsed uint64

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sagui: read multipart part: %w", err)
		}

		if part.FileName() == "" {
			n, ferr := readField(part, limits.PayloadLimit, &payloadUsed)
			part.Close()
			if ferr != nil {
				return nil, ferr
			}
			res.Fields[part.FormName()] = append(res.Fields[part.FormName()], n)
			continue
		}

		mimeType := part.Header.Get("Content-Type")
		var partBody io.Reader = part
		if mimeType == "" {
			mimeType, partBody = sniffPartType(part)
		}
		if onField != nil {
			if err := onField(part.FormName(), part.FileName(), mimeType); err != nil {
				part.Close()
				return nil, err
			}
		}

		up, err := factory(uploadsDir, part.FormName(), part.FileName(), mimeType, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			part.Close()
			return nil, err
		}
		res.Uploads = append(res.Uploads, up)

		n, werr := spoolPart(up, partBody, limits.UploadsLimit, &uploadsUsed)
		part.Close()
		if werr != nil {
			return nil, werr
		}
		up.Size = n
	}
	return res, nil
}

func readField(r io.Reader, limit uint64, used *uint64) (string, error) {
	limited := r
	if limit > 0 {
		limited = io.LimitReader(r, int64(limit-*used)+1)
	}
	b, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("sagui: read form field: %w", err)
	}
	*used += uint64(len(b))
	if limit > 0 && *used > limit {
		return "", errPayloadTooLarge
	}
	return string(b), nil
}

func spoolPart(up *Upload, r io.Reader, limit uint64, used *uint64) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if limit > 0 && *used+uint64(n) > limit {
				return total, errUploadTooLarge
			}
			wn, werr := up.Write(total, buf[:n])
			if werr != nil {
				return total, werr
			}
			total += int64(wn)
			*used += uint64(wn)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, fmt.Errorf("sagui: read upload part: %w", rerr)
		}
	}
}

// sniffPartType reads up to 512 bytes of a multipart.Part through
// net/http.DetectContentType when the client sent no Content-Type for a
// file part, then returns a reader that replays those bytes ahead of the
// rest of the part, so no spooled byte is lost to the sniff.
func sniffPartType(part *multipart.Part) (string, io.Reader) {
	head := make([]byte, 512)
	n, _ := io.ReadFull(part, head)
	head = head[:n]
	return http.DetectContentType(head), io.MultiReader(bytes.NewReader(head), part)
}
