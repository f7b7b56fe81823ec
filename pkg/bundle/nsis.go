package bundle

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/cyrup-ai/kodegen-release/pkg/icon"
	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/sign"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// defaultNsisTemplate is the installer script used when the settings carry
// no custom template.
const defaultNsisTemplate = `!include "MUI2.nsh"

Name "{{.ProductName}}"
OutFile "{{.OutFile}}"
Unicode True
{{if .PerMachine}}InstallDir "$PROGRAMFILES64\{{.ProductName}}"
RequestExecutionLevel admin
{{else}}InstallDir "$LOCALAPPDATA\{{.ProductName}}"
RequestExecutionLevel user
{{end}}
{{if .IconFile}}!define MUI_ICON "{{.IconFile}}"
{{end}}
!insertmacro MUI_PAGE_DIRECTORY
!insertmacro MUI_PAGE_INSTFILES
!insertmacro MUI_LANGUAGE "English"

Section "Install"
  SetOutPath "$INSTDIR"
{{range .Binaries}}  File "{{.}}"
{{end}}  WriteUninstaller "$INSTDIR\uninstall.exe"
  WriteRegStr SHCTX "Software\Microsoft\Windows\CurrentVersion\Uninstall\{{.PackageName}}" "DisplayName" "{{.ProductName}}"
  WriteRegStr SHCTX "Software\Microsoft\Windows\CurrentVersion\Uninstall\{{.PackageName}}" "DisplayVersion" "{{.Version}}"
  WriteRegStr SHCTX "Software\Microsoft\Windows\CurrentVersion\Uninstall\{{.PackageName}}" "Publisher" "{{.Publisher}}"
  WriteRegStr SHCTX "Software\Microsoft\Windows\CurrentVersion\Uninstall\{{.PackageName}}" "UninstallString" "$INSTDIR\uninstall.exe"
SectionEnd

Section "Uninstall"
{{range .BinaryNames}}  Delete "$INSTDIR\{{.}}"
{{end}}  Delete "$INSTDIR\uninstall.exe"
  RMDir "$INSTDIR"
  DeleteRegKey SHCTX "Software\Microsoft\Windows\CurrentVersion\Uninstall\{{.PackageName}}"
SectionEnd
`

// NsisBundler generates the installer script and invokes makensis.
type NsisBundler struct {
	Signer sign.WinSigner
	// Tool overrides the makensis binary; tests point it at a stub.
	Tool string
}

func (NsisBundler) PackageType() types.PackageType { return types.PackageNsis }

type nsisTemplateData struct {
	ProductName string
	PackageName string
	Version     string
	Publisher   string
	OutFile     string
	IconFile    string
	PerMachine  bool
	Binaries    []string
	BinaryNames []string
}

func (b NsisBundler) Bundle(ctx context.Context, s *Settings) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	logger := log.WithPlatform("nsis")

	staging, err := cleanStaging(s.OutDir, s.PackageName+"_nsis")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	iconFile := ""
	if len(s.Icons) > 0 {
		icons, err := icon.Load(s.Icons)
		if err != nil {
			return nil, err
		}
		iconFile = filepath.Join(staging, s.PackageName+".ico")
		if err := icon.WriteICO(icons, iconFile); err != nil {
			return nil, err
		}
	}

	outName := fmt.Sprintf("%s_%s_%s-setup.exe", s.PackageName, s.Version, s.Arch)
	outPath := filepath.Join(s.OutDir, outName)

	// Stage and patch binary copies; the script packs the staged paths.
	var names, staged []string
	for _, bin := range s.Binaries() {
		dst := filepath.Join(staging, filepath.Base(bin))
		if err := copyBinary(bin, dst); err != nil {
			return nil, err
		}
		staged = append(staged, dst)
		names = append(names, filepath.Base(bin))
	}
	if err := patchStagedBinaries(staged, types.PackageNsis); err != nil {
		return nil, err
	}

	data := nsisTemplateData{
		ProductName: s.DisplayName(),
		PackageName: s.PackageName,
		Version:     s.Version,
		Publisher:   s.Publisher,
		OutFile:     outPath,
		IconFile:    iconFile,
		PerMachine:  s.Nsis.PerMachine,
		Binaries:    staged,
		BinaryNames: names,
	}

	tmplText := defaultNsisTemplate
	if s.Nsis.Template != "" {
		raw, err := os.ReadFile(s.Nsis.Template)
		if err != nil {
			return nil, fmt.Errorf("reading nsis template: %w", err)
		}
		tmplText = string(raw)
	}
	tmpl, err := template.New("installer").Parse(tmplText)
	if err != nil {
		return nil, fmt.Errorf("parsing nsis template: %w", err)
	}

	scriptPath := filepath.Join(staging, "installer.nsi")
	f, err := os.Create(scriptPath)
	if err != nil {
		return nil, err
	}
	if err := tmpl.Execute(f, data); err != nil {
		f.Close()
		return nil, fmt.Errorf("rendering nsis script: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	tool := b.Tool
	if tool == "" {
		tool = "makensis"
	}
	cmd := exec.CommandContext(ctx, tool, scriptPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("makensis: %w: %s", err, strings.TrimSpace(string(out)))
	}

	if b.Signer != nil && b.Signer.Configured() {
		if err := b.Signer.Sign(ctx, outPath); err != nil {
			return nil, err
		}
	}

	logger.Info().Str("artifact", outPath).Msg("built nsis installer")
	return []string{outPath}, nil
}
