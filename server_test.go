package sagui

import (
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerNewRequiresRequestCb(t *testing.T) {
	_, err := New(nil, nil, func(msg string) {})
	require.Error(t, err)
}

func TestServerNewRequiresErrorCb(t *testing.T) {
	_, err := New(nil, func(ctx context.Context, req *Request, res *Response) {}, nil)
	require.Error(t, err)
}

func TestServerDispatchRunsRequestCb(t *testing.T) {
	srv, err := New(nil, func(ctx context.Context, req *Request, res *Response) {
		res.Send([]byte("ok"), "text/plain", 200) //nolint:errcheck
	}, func(msg string) {})
	require.NoError(t, err)
	srv.isolationSem = nil

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	srv.dispatch(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestServerDispatchRunsAuthCbAndHonorsDenial(t *testing.T) {
	srv, err := New(func(ctx context.Context, gate *AuthGate, req *Request, res *Response) bool {
		gate.Deny([]byte("nope"), "text/plain") //nolint:errcheck
		return false
	}, func(ctx context.Context, req *Request, res *Response) {
		t.Fatal("request_cb should not run when auth denies")
	}, func(msg string) {})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	rec := httptest.NewRecorder()
	srv.dispatch(rec, req)

	require.Equal(t, 401, rec.Code)
	require.Equal(t, "nope", rec.Body.String())
}

func TestServerDispatchSkipsUploadProcessingWhenAuthDenies(t *testing.T) {
	srv, err := New(func(ctx context.Context, gate *AuthGate, req *Request, res *Response) bool {
		gate.Deny([]byte("nope"), "text/plain") //nolint:errcheck
		return false
	}, func(ctx context.Context, req *Request, res *Response) {
		t.Fatal("request_cb should not run when auth denies")
	}, func(msg string) {})
	require.NoError(t, err)
	srv.UploadsDir = t.TempDir()

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "secret.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("should never be spooled"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(buf.String()))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.dispatch(rec, req)

	require.Equal(t, 401, rec.Code)
	entries, err := os.ReadDir(srv.UploadsDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestServerDispatchSkipsUploadProcessingWhenAuthCancels(t *testing.T) {
	srv, err := New(func(ctx context.Context, gate *AuthGate, req *Request, res *Response) bool {
		gate.Cancel()
		return false
	}, func(ctx context.Context, req *Request, res *Response) {
		t.Fatal("request_cb should not run when auth cancels")
	}, func(msg string) {})
	require.NoError(t, err)
	srv.UploadsDir = t.TempDir()

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "secret.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("should never be spooled"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(buf.String()))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.dispatch(rec, req)

	entries, err := os.ReadDir(srv.UploadsDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestServerDispatchProcessesDeleteAndOptionsBodies(t *testing.T) {
	for _, method := range []string{http.MethodDelete, http.MethodOptions} {
		var gotFields map[string][]string
		srv, err := New(nil, func(ctx context.Context, req *Request, res *Response) {
			gotFields = req.Fields()
			res.Send(nil, "", 204) //nolint:errcheck
		}, func(msg string) {})
		require.NoError(t, err)
		srv.UploadsDir = t.TempDir()

		body := strings.NewReader(url.Values{"name": {"ana"}}.Encode())
		req := httptest.NewRequest(method, "/form", body)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		srv.dispatch(rec, req)

		require.Equal(t, 204, rec.Code, method)
		require.Equal(t, []string{"ana"}, gotFields["name"], method)
	}
}

func TestServerDispatchIgnoresPatchBody(t *testing.T) {
	var gotFields map[string][]string
	srv, err := New(nil, func(ctx context.Context, req *Request, res *Response) {
		gotFields = req.Fields()
		res.Send(nil, "", 204) //nolint:errcheck
	}, func(msg string) {})
	require.NoError(t, err)
	srv.UploadsDir = t.TempDir()

	body := strings.NewReader(url.Values{"name": {"ana"}}.Encode())
	req := httptest.NewRequest(http.MethodPatch, "/form", body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.dispatch(rec, req)

	require.Equal(t, 204, rec.Code)
	require.Nil(t, gotFields)
}

func TestServerDispatchParsesURLEncodedFields(t *testing.T) {
	var gotFields map[string][]string
	srv, err := New(nil, func(ctx context.Context, req *Request, res *Response) {
		gotFields = req.Fields()
		res.Send(nil, "", 204) //nolint:errcheck
	}, func(msg string) {})
	require.NoError(t, err)
	srv.UploadsDir = t.TempDir()

	body := strings.NewReader(url.Values{"name": {"ana"}}.Encode())
	req := httptest.NewRequest(http.MethodPost, "/form", body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.dispatch(rec, req)

	require.Equal(t, 204, rec.Code)
	require.Equal(t, []string{"ana"}, gotFields["name"])
}

func TestServerDispatchSpoolsMultipartUploads(t *testing.T) {
	var uploadedNames []string
	srv, err := New(nil, func(ctx context.Context, req *Request, res *Response) {
		for _, up := range req.Uploads() {
			uploadedNames = append(uploadedNames, up.Filename)
		}
		res.Send(nil, "", 204) //nolint:errcheck
	}, func(msg string) {})
	require.NoError(t, err)
	srv.UploadsDir = t.TempDir()

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "note.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("contents"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(buf.String()))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.dispatch(rec, req)

	require.Equal(t, 204, rec.Code)
	require.Equal(t, []string{"note.txt"}, uploadedNames)
}

func TestServerShutdownIsIdempotentBeforeServe(t *testing.T) {
	srv, err := New(nil, func(ctx context.Context, req *Request, res *Response) {}, func(msg string) {})
	require.NoError(t, err)
	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestServerSetPostBufferSizeValidatesMinimum(t *testing.T) {
	srv, err := New(nil, func(ctx context.Context, req *Request, res *Response) {}, func(msg string) {})
	require.NoError(t, err)
	require.Error(t, srv.SetPostBufferSize(10))
	require.NoError(t, srv.SetPostBufferSize(512))
	require.Equal(t, 512, srv.PostBufferSize)
}

func TestServerApplySmallMemoryDefaults(t *testing.T) {
	srv, err := New(nil, func(ctx context.Context, req *Request, res *Response) {}, func(msg string) {})
	require.NoError(t, err)
	srv.ApplySmallMemoryDefaults()
	require.Equal(t, smallPostBufferSize, srv.PostBufferSize)
	require.Equal(t, uint64(smallPayloadLimit), srv.PayloadLimit)
	require.Equal(t, uint64(smallUploadsLimit), srv.UploadsLimit)
}
