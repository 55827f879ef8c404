package packaging

import (
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/connectors"
	"github.com/arborhq/arbor/internal/tools"
)

// Severity classifies a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	File     string   `json:"file,omitempty"`
}

// Report is the outcome of validating one package. A package with any
// error-severity issue must not be deployed.
type Report struct {
	Slug   string  `json:"slug"`
	Issues []Issue `json:"issues"`
}

// Valid reports whether the package passed (warnings allowed).
func (r *Report) Valid() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns the error-severity issues.
func (r *Report) Errors() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			out = append(out, issue)
		}
	}
	return out
}

// Warnings returns the warning-severity issues.
func (r *Report) Warnings() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == SeverityWarning {
			out = append(out, issue)
		}
	}
	return out
}

func (r *Report) addError(code, msg, file string) {
	r.Issues = append(r.Issues, Issue{Severity: SeverityError, Code: code, Message: msg, File: file})
}

func (r *Report) addWarning(code, msg, file string) {
	r.Issues = append(r.Issues, Issue{Severity: SeverityWarning, Code: code, Message: msg, File: file})
}

// deniedImports are import paths (exact or prefix) that agent code must not
// reach for: process control, network, file system, database drivers, HTTP
// clients. Everything an agent needs comes through its turn context.
var deniedImports = []string{
	"os",
	"os/exec",
	"syscall",
	"unsafe",
	"plugin",
	"net",
	"net/http",
	"net/smtp",
	"net/rpc",
	"io/ioutil",
	"database/sql",
	"github.com/jmoiron/sqlx",
	"github.com/jackc/pgx",
	"github.com/lib/pq",
	"github.com/go-sql-driver/mysql",
	"github.com/mattn/go-sqlite3",
	"github.com/redis/go-redis",
	"github.com/gorilla/websocket",
	"github.com/nats-io/nats.go",
	"google.golang.org/grpc",
}

// deniedCalls are textual probes for calls that escape the sandbox even when
// the import list is evaded (dot imports, aliasing).
var deniedCalls = []string{
	"exec.Command",
	"os.Open",
	"os.Create",
	"os.ReadFile",
	"os.WriteFile",
	"os.Remove",
	"os.Getenv",
	"os.Setenv",
	"http.Get",
	"http.Post",
	"http.NewRequest",
	"net.Dial",
	"net.Listen",
	"plugin.Open",
	"syscall.",
}

// credentialProbes match literal credentials of typical shapes.
var credentialProbes = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`),
	regexp.MustCompile(`xox[baprs]-[0-9A-Za-z-]{10,}`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*"[^"]{12,}"`),
}

// contractMarkers are the methods the agent contract requires. The probe is
// textual; the validator never compiles or executes package code.
var contractMarkers = []string{"Manifest(", "HandleTurn("}

// Validator performs the static admission checks over a package. Registries
// may be nil; dependency existence then degrades to a warning.
type Validator struct {
	tools      *tools.Registry
	connectors *connectors.Registry
	logger     *logger.Logger
}

// NewValidator creates a validator bound to the live registries.
func NewValidator(toolReg *tools.Registry, connReg *connectors.Registry, log *logger.Logger) *Validator {
	return &Validator{
		tools:      toolReg,
		connectors: connReg,
		logger:     log.WithFields(zap.String("component", "package_validator")),
	}
}

// Validate runs every static check and returns the report.
func (v *Validator) Validate(pkg *Package) *Report {
	report := &Report{Slug: pkg.Manifest.Slug}

	v.checkManifest(pkg, report)
	v.checkPrompt(pkg, report)
	v.checkFrontend(pkg, report)
	v.checkBackend(pkg, report)
	v.checkDependencies(pkg, report)

	v.logger.Info("Package validated",
		zap.String("slug", pkg.Manifest.Slug),
		zap.Int("errors", len(report.Errors())),
		zap.Int("warnings", len(report.Warnings())))
	return report
}

func (v *Validator) checkManifest(pkg *Package, report *Report) {
	schema, err := manifestJSONSchema()
	if err != nil {
		report.addError("SCHEMA_COMPILE", err.Error(), pkg.ManifestPath)
		return
	}

	var decoded any
	if err := json.Unmarshal(pkg.raw, &decoded); err != nil {
		report.addError("MANIFEST_PARSE", err.Error(), pkg.ManifestPath)
		return
	}
	if err := schema.Validate(decoded); err != nil {
		report.addError("MANIFEST_SCHEMA", err.Error(), pkg.ManifestPath)
	}
}

func (v *Validator) checkPrompt(pkg *Package, report *Report) {
	prompt, err := pkg.SystemPrompt()
	if err != nil {
		report.addError("PROMPT_READ", err.Error(), promptsDir)
		return
	}
	if strings.TrimSpace(prompt) == "" {
		report.addError("PROMPT_MISSING", "system prompt is missing or empty", promptsDir)
	}
}

func (v *Validator) checkFrontend(pkg *Package, report *Report) {
	if !pkg.HasFrontendEntry() {
		report.addWarning("FRONTEND_MISSING", "no frontend entry point found", frontendDir)
	}
}

func (v *Validator) checkBackend(pkg *Package, report *Report) {
	sources, err := pkg.BackendSources()
	if err != nil {
		report.addError("BACKEND_READ", err.Error(), backendDir)
		return
	}
	if len(sources) == 0 {
		report.addError("BACKEND_MISSING", "no backend sources found", backendDir)
		return
	}

	contractFound := false
	fset := token.NewFileSet()

	for _, rel := range sources {
		data, err := os.ReadFile(filepath.Join(pkg.Dir, rel))
		if err != nil {
			report.addError("BACKEND_READ", err.Error(), rel)
			continue
		}
		src := string(data)

		file, err := parser.ParseFile(fset, rel, data, parser.ImportsOnly)
		if err != nil {
			report.addError("BACKEND_PARSE", err.Error(), rel)
			continue
		}
		for _, imp := range file.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			if denied, match := deniedImport(path); denied {
				report.addError("DENIED_IMPORT",
					fmt.Sprintf("import of %q is not allowed (matches %q)", path, match), rel)
			}
		}

		for _, probe := range deniedCalls {
			if strings.Contains(src, probe) {
				report.addError("DENIED_CALL",
					fmt.Sprintf("call probe %q matched", probe), rel)
			}
		}
		for _, re := range credentialProbes {
			if re.MatchString(src) {
				report.addError("CREDENTIAL_LITERAL",
					"source contains what looks like a literal credential", rel)
			}
		}

		markers := 0
		for _, marker := range contractMarkers {
			if strings.Contains(src, marker) {
				markers++
			}
		}
		if markers == len(contractMarkers) {
			contractFound = true
		}
	}

	if !contractFound {
		report.addError("CONTRACT_MISSING",
			"no type implementing the agent contract (Manifest, HandleTurn) was found", backendDir)
	}
}

func deniedImport(path string) (bool, string) {
	for _, denied := range deniedImports {
		if path == denied || strings.HasPrefix(path, denied+"/") {
			return true, denied
		}
	}
	return false, ""
}

func (v *Validator) checkDependencies(pkg *Package, report *Report) {
	for _, slug := range pkg.Manifest.RequiredTools {
		switch {
		case v.tools == nil:
			report.addWarning("DEP_UNCHECKED",
				fmt.Sprintf("tool %q could not be checked without a registry", slug), pkg.ManifestPath)
		case !v.tools.Has(slug):
			report.addError("DEP_MISSING",
				fmt.Sprintf("required tool %q is not registered", slug), pkg.ManifestPath)
		}
	}
	for _, slug := range pkg.Manifest.RequiredConnectors {
		switch {
		case v.connectors == nil:
			report.addWarning("DEP_UNCHECKED",
				fmt.Sprintf("connector %q could not be checked without a registry", slug), pkg.ManifestPath)
		case !v.connectors.Has(slug):
			report.addError("DEP_MISSING",
				fmt.Sprintf("required connector %q is not registered", slug), pkg.ManifestPath)
		}
	}
}
