package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// registerAdmin exposes the online backup endpoint. VACUUM INTO gives a
// consistent snapshot without blocking the writer.
func registerAdmin(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "admin-backup",
		Method:      http.MethodPost,
		Path:        "/admin/backup",
		Summary:     "Snapshot the database",
		Errors:      []int{http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if p, ok := principalFromContext(ctx); ok && p.Role != "admin" {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
		}
		dir := ""
		if cfg.Config != nil {
			dir = cfg.Config.Backup.Dir
		}
		if dir == "" {
			dir = "backups"
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(filepath.Dir(cfg.DBPath), dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, handleError(err)
		}
		dest := filepath.Join(dir, "planline-"+time.Now().UTC().Format("20060102-150405")+".db")
		if _, err := cfg.Engine.DB.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok", "path": dest}}, nil
	})
}
