package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wilhg/snapstore/pkg/config"
	"github.com/wilhg/snapstore/pkg/store/entstore"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSnapshotLifecycle(t *testing.T) {
	cfg := config.Default()
	cfg.DatabaseURL = "sqlite:file:httptest?mode=memory&cache=shared&_pragma=busy_timeout(5000)"
	st, err := openStore(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(t.Context()))

	mux, err := buildMux(cfg, st, discardLogger())
	require.NoError(t, err)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	url := srv.URL + "/api/historical-data"

	// append
	res, err := http.Post(url, "application/json", bytes.NewBufferString(`{"data":{"x":1}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	_ = res.Body.Close()

	// read latest
	res2, err := http.Get(url)
	require.NoError(t, err)
	var latest struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(res2.Body).Decode(&latest))
	_ = res2.Body.Close()
	require.Equal(t, float64(1), latest.Data["x"])

	// clear
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	res3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res3.StatusCode)
	_ = res3.Body.Close()

	res4, err := http.Get(url)
	require.NoError(t, err)
	body, _ := io.ReadAll(res4.Body)
	_ = res4.Body.Close()
	require.JSONEq(t, `{"data":{}}`, string(body))
}

func TestBuildMuxStaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>mine</h1>"), 0o600))

	cfg := config.Default()
	cfg.StaticDir = dir
	mux, err := buildMux(cfg, nil, discardLogger())
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "<h1>mine</h1>", rr.Body.String())

	cfg.StaticDir = filepath.Join(dir, "index.html")
	_, err = buildMux(cfg, nil, discardLogger())
	require.ErrorContains(t, err, "not a directory")
}

// runCLI executes the root command with a file-backed SQLite database.
func runCLI(t *testing.T, dbURL string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", dbURL)
	t.Setenv("SNAPSTORE_CONFIG", "")
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestCLIAdminCommands(t *testing.T) {
	dbURL := "sqlite:file:" + filepath.Join(t.TempDir(), "cli.sqlite") + "?_pragma=busy_timeout(5000)"

	out, err := runCLI(t, dbURL, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "schema ready (sqlite3)")

	st, err := entstore.Open(t.Context(), dbURL)
	require.NoError(t, err)
	for _, d := range []string{`{"n":1}`, `{"n":2}`} {
		require.NoError(t, st.Append(t.Context(), json.RawMessage(d)))
	}
	require.NoError(t, st.Close())

	out, err = runCLI(t, dbURL, "history")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var first historyEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.JSONEq(t, `{"n":2}`, string(first.Data))

	_, err = runCLI(t, dbURL, "clear")
	require.ErrorContains(t, err, "--yes")

	out, err = runCLI(t, dbURL, "clear", "--yes")
	require.NoError(t, err)
	require.Contains(t, out, "all snapshots deleted")

	out, err = runCLI(t, dbURL, "history")
	require.NoError(t, err)
	require.Empty(t, strings.TrimSpace(out))
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "sqlite:", "version")
	require.NoError(t, err)
	require.Contains(t, out, "snapstore dev")
}

func TestConfigErrorsSurface(t *testing.T) {
	t.Setenv("SNAPSTORE_RETAIN", "0")
	_, err := runCLI(t, "sqlite:file:unused?mode=memory", "migrate")
	require.ErrorContains(t, err, "retain")
}
