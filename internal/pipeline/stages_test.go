package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportsync/internal/browser"
	"reportsync/internal/browser/browsertest"
	"reportsync/internal/config"
	"reportsync/internal/interact"
)

func loginPage() (*browsertest.FakePage, *browsertest.Element, *browsertest.Element) {
	page := browsertest.NewFakePage()
	id := page.Add(browser.ByPlaceholder("Ops ID"), &browsertest.Element{Visible: true})
	pw := page.Add(browser.ByPlaceholder("Senha"), &browsertest.Element{Visible: true})
	return page, id, pw
}

func TestLoginFillsAndSubmits(t *testing.T) {
	page, id, pw := loginPage()
	page.Add(browser.ByCSS("form button[type='submit']"), &browsertest.Element{Visible: true})
	deps, _ := testDeps(page)

	login := &Login{Deps: deps, URL: "https://console.test/", Credentials: config.Credentials{OpsID: "Ops1", Password: "secret"}}
	require.NoError(t, login.Run(context.Background()))

	assert.Equal(t, "Ops1", id.Value)
	assert.Equal(t, "secret", pw.Value)
	assert.Equal(t, "https://console.test/", page.URL)
	assert.Equal(t, []string{"click css=form button[type='submit']"}, page.Clicks())
	assert.Len(t, page.CallsWith(browsertest.OpSettle), 1)
}

func TestLoginSubmitFallsBackToEnter(t *testing.T) {
	page, _, _ := loginPage()
	deps, rec := testDeps(page)

	login := &Login{Deps: deps, URL: "https://console.test/", Credentials: config.Credentials{OpsID: "Ops1", Password: "secret"}}
	require.NoError(t, login.Run(context.Background()))

	assert.Equal(t, []string{"key Enter"}, page.CallsWith(browsertest.OpKey))
	assert.True(t, rec.Contains("Submit fallback"))
}

func TestLoginSettleTimeoutIsSoft(t *testing.T) {
	page, _, _ := loginPage()
	page.Add(browser.ByCSS("form button[type='submit']"), &browsertest.Element{Visible: true})
	page.SettleErr = browser.ErrTimeout
	deps, rec := testDeps(page)

	login := &Login{Deps: deps, URL: "https://console.test/", Credentials: config.Credentials{OpsID: "Ops1", Password: "secret"}}
	require.NoError(t, login.Run(context.Background()))
	assert.True(t, rec.Contains("did not settle"))
}

func TestLoginWithoutFormFails(t *testing.T) {
	page := browsertest.NewFakePage()
	deps, _ := testDeps(page)

	err := (&Login{Deps: deps, URL: "https://console.test/"}).Run(context.Background())

	var failed *interact.InteractionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, interact.ActionWaitVisible, failed.Action)
}

func TestExportTriggerClicksFirstExportButton(t *testing.T) {
	page := browsertest.NewFakePage()
	page.Add(browser.ByRole("button", "Exportar"), &browsertest.Element{Visible: true})
	deps, _ := testDeps(page)

	err := (&ExportTrigger{Deps: deps, ListingURL: "https://console.test/#/trip"}).Trigger(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "https://console.test/#/trip", page.URL)
	assert.Equal(t, []string{`click role=button[name="Exportar"]`}, page.Clicks())
}

func TestExportTriggerMissingButtonIsFatal(t *testing.T) {
	page := browsertest.NewFakePage()
	deps, _ := testDeps(page)

	err := (&ExportTrigger{Deps: deps, ListingURL: "https://console.test/#/trip"}).Trigger(context.Background())

	var failed *interact.InteractionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "export", failed.Target)
}

func TestPollerFindsReadyRow(t *testing.T) {
	page := browsertest.NewFakePage()
	page.Add(browser.ByText("Download"), &browsertest.Element{Visible: true})
	deps, rec := testDeps(page)
	dir := t.TempDir()

	loc, err := (&TaskCenterPoller{Deps: deps, URL: "https://console.test/#/tasks", DiagDir: dir}).Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, browser.ByText("Download"), loc)
	assert.Empty(t, page.CallsWith(browsertest.OpReload))
	assert.FileExists(t, filepath.Join(dir, PreviewScreenshot))
	assert.True(t, rec.Contains("already active"))
}

func TestPollerReloadsOnce(t *testing.T) {
	page := browsertest.NewFakePage()
	page.Add(browser.ByText("Exportar tarefa"), &browsertest.Element{Visible: true})
	page.OnReload = func(p *browsertest.FakePage) {
		p.Add(browser.ByText("Baixar"), &browsertest.Element{Visible: true})
	}
	deps, _ := testDeps(page)

	loc, err := (&TaskCenterPoller{Deps: deps, URL: "https://console.test/#/tasks"}).Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, browser.ByText("Baixar"), loc)
	assert.Len(t, page.CallsWith(browsertest.OpReload), 1)
	assert.Len(t, page.CallsWith(browsertest.OpForceClick), 2)
}

func TestPollerGivesUpWithArtifactNotReady(t *testing.T) {
	page := browsertest.NewFakePage()
	deps, _ := testDeps(page)

	_, err := (&TaskCenterPoller{Deps: deps, URL: "https://console.test/#/tasks"}).Poll(context.Background())

	var notReady *ArtifactNotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.True(t, notReady.Reloaded)
	assert.Equal(t, 2*config.DefaultWaits().Get(config.WaitReady), notReady.Waited)
	assert.Len(t, page.CallsWith(browsertest.OpReload), 1)
}

func TestRetrieverSavesUnderSuggestedName(t *testing.T) {
	page := browsertest.NewFakePage()
	ready := browser.ByText("Baixar")
	page.Add(ready, &browsertest.Element{
		Visible:  true,
		Download: &browsertest.Download{Name: "trip_export_20260101.csv", Data: []byte("id,qty\na,1\n")},
	})
	deps, _ := testDeps(page)
	dir := t.TempDir()

	path, err := (&Retriever{Deps: deps, DownloadDir: dir}).Retrieve(context.Background(), ready)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "trip_export_20260101.csv"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,qty\na,1\n", string(data))
}

func TestRetrieverTimesOutWithoutTransfer(t *testing.T) {
	page := browsertest.NewFakePage()
	ready := browser.ByText("Baixar")
	page.Add(ready, &browsertest.Element{Visible: true})
	deps, _ := testDeps(page)

	_, err := (&Retriever{Deps: deps, DownloadDir: t.TempDir()}).Retrieve(context.Background(), ready)

	var timeout *DownloadTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, config.DefaultWaits().Get(config.WaitDownload), timeout.Timeout)
	assert.True(t, errors.Is(err, browser.ErrTimeout))
}

func TestRetrieverClickFailureIsInteractionFailed(t *testing.T) {
	page := browsertest.NewFakePage()
	deps, _ := testDeps(page)

	_, err := (&Retriever{Deps: deps, DownloadDir: t.TempDir()}).Retrieve(context.Background(), browser.ByText("Baixar"))

	var failed *interact.InteractionFailedError
	require.ErrorAs(t, err, &failed)
	var timeout *DownloadTimeoutError
	assert.False(t, errors.As(err, &timeout))
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "a.csv", downloadName("a.csv"))
	assert.Equal(t, "b.csv", downloadName("../../b.csv"))
	assert.Equal(t, "export.csv", downloadName(""))
}
