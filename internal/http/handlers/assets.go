package handlers

import (
	"fmt"
	"net/http"

	"modelpixie/pkg/ziputil"
)

type downloadAssetsRequest struct {
	JobID string `json:"jobId"`
}

// DownloadAssets streams every stored asset of a job as one zip archive:
// each image variation plus the finished model, when present.
func (a *App) DownloadAssets(w http.ResponseWriter, r *http.Request) {
	var req downloadAssetsRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.JobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "jobId required")
		return
	}
	job, err := a.Jobs.GetJob(r.Context(), req.JobID)
	if err != nil {
		a.fail(w, err)
		return
	}

	var assets []ziputil.Asset
	for _, v := range job.Variations {
		key, ok := a.Store.KeyFromURL(v.URL)
		if !ok {
			continue
		}
		data, err := a.Store.Read(r.Context(), key)
		if err != nil {
			continue
		}
		assets = append(assets, ziputil.Asset{Filename: fmt.Sprintf("variation-%02d.png", v.ID), Data: data})
	}
	if job.ModelURL != "" {
		if key, ok := a.Store.KeyFromURL(job.ModelURL); ok {
			if data, err := a.Store.Read(r.Context(), key); err == nil {
				assets = append(assets, ziputil.Asset{Filename: "model.glb", Data: data})
			}
		}
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no stored assets for job")
		return
	}

	archive := ziputil.Archive(assets)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job-%s.zip", job.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
