package pipeline

import (
	"reportsync/internal/browser"
	"reportsync/internal/interact"
)

// Targets on the console, in the order they are tried.
var (
	OperatorIDField = interact.NewTarget("operator id",
		browser.ByPlaceholder("Ops ID"),
	)
	PasswordField = interact.NewTarget("password",
		browser.ByPlaceholder("Senha"),
		browser.ByPlaceholder("Password"),
		browser.ByCSS("input[type='password']"),
	)
	SubmitButton = interact.NewTarget("login submit",
		browser.ByCSS("form button[type='submit']"),
		browser.ByCSS("form button"),
		browser.ByRole("button", "Entrar"),
		browser.ByRole("button", "Login"),
	)

	ExportButton = interact.NewTarget("export",
		browser.ByRole("button", "Exportar"),
		browser.ByRole("button", "Export"),
	)

	ExportTaskTab = interact.NewTarget("export task tab",
		browser.ByText("Exportar tarefa"),
		browser.ByText("Export Task"),
	)

	// ReadyRow is the download affordance of the first rendered row, taken
	// to be the job this run triggered.
	ReadyRow = interact.NewTarget("ready row",
		browser.ByText("Baixar"),
		browser.ByText("Download"),
		browser.ByRole("button", "Baixar"),
	)
)

// Overlay markers, close affordances and background masks of the post-login
// interstitial, highest priority first.
var (
	PopupCloseSelectors = []string{
		".ssc-dialog-header .ssc-dialog-close-icon-wrapper",
		".ssc-dialog-close-icon-wrapper",
		"svg.ssc-dialog-close",
		".ant-modal-close",
		".ant-modal-close-x",
		"[aria-label='Close']",
	}
	PopupMaskSelectors = []string{
		".ant-modal-mask",
		".ssc-dialog-mask",
		".ssc-modal-mask",
	}
	PopupOverlaySelectors = append([]string{
		".ant-modal-wrap",
		".ssc-dialog",
	}, PopupMaskSelectors...)
)

func cssTarget(name string, selectors []string) interact.Target {
	t := interact.Target{Name: name}
	for _, s := range selectors {
		t.Locators = append(t.Locators, browser.ByCSS(s))
	}
	return t
}
