package main

import (
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/sagui-go/sagui"
)

// handleUpload saves every file part of a multipart POST under the
// server's uploads directory, named by its original filename, refusing
// to overwrite an existing file.
func handleUpload(req *sagui.Request, res *sagui.Response, _ *sagui.Route) {
	if req.Method() != http.MethodPost {
		res.Send([]byte("method not allowed\n"), "text/plain", http.StatusMethodNotAllowed) //nolint:errcheck
		return
	}

	var saved []string
	for _, up := range req.Uploads() {
		if err := up.Save(false); err != nil {
			res.Send([]byte(err.Error()+"\n"), "text/plain", http.StatusConflict) //nolint:errcheck
			return
		}
		saved = append(saved, filepath.Base(up.DestPath()))
	}

	body, _ := json.Marshal(map[string]any{"saved": saved}) //nolint:errcheck
	res.Send(body, "application/json", http.StatusOK)        //nolint:errcheck
}

// handleDownload streams back a previously uploaded file by name.
func handleDownload(req *sagui.Request, res *sagui.Response, route *sagui.Route) {
	name := routeVar(route, "name")
	path := filepath.Join(req.Server().UploadsDir, filepath.Base(name))
	if err := res.SendFile(path, 0, 0, 0, "attachment", "", http.StatusOK); err != nil {
		res.Send([]byte("not found\n"), "text/plain", http.StatusNotFound) //nolint:errcheck
	}
}

// handleDownloadGzip streams back a previously uploaded file, gzip-compressed.
func handleDownloadGzip(req *sagui.Request, res *sagui.Response, route *sagui.Route) {
	name := routeVar(route, "name")
	path := filepath.Join(req.Server().UploadsDir, filepath.Base(name))
	if err := res.ZSendFile(path, 0, 0, 0, http.StatusOK); err != nil {
		res.Send([]byte("not found\n"), "text/plain", http.StatusNotFound) //nolint:errcheck
	}
}

// handleAdminStats answers with a fixed JSON note pointing at the
// Prometheus endpoint; it does not report the counter values itself. It
// is gated behind the ServiceToken auth callback wired in main.go.
func handleAdminStats(req *sagui.Request, res *sagui.Response, _ *sagui.Route) {
	const body = `{"note":"see /metrics for the Prometheus exposition of these counters"}`
	res.Send([]byte(body), "application/json", http.StatusOK) //nolint:errcheck
}

func routeVar(route *sagui.Route, name string) string {
	var value string
	for k, v := range route.Vars() {
		if k == name {
			value = v
			break
		}
	}
	return value
}
