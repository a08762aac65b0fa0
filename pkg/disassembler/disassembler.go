// Package disassembler implements C2: drives an external disassembler
// subprocess (radare2-family command protocol) and maps its JSON output
// into a models.Disassembly record (spec.md §4.2).
package disassembler

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/log"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// Adapter starts a fresh external tool process for every tool command
// (see exec), so no tool process is shared between commands or jobs (the
// tool is not thread-safe, spec §4.2 "Concurrency").
type Adapter struct {
	// ToolPath is the path to the disassembler binary, default "r2".
	ToolPath    string
	StepTimeout time.Duration
}

// NewAdapter builds an Adapter invoking toolPath for each job, enforcing
// stepTimeout on every individual tool command.
func NewAdapter(toolPath string, stepTimeout time.Duration) *Adapter {
	return &Adapter{ToolPath: toolPath, StepTimeout: stepTimeout}
}

// isCancelled is polled between tool commands so a mid-job cancellation
// request stops further disassembler invocation promptly (spec §4.7).
type isCancelled func() bool

// Analyze disassembles the file at path to depth, writing the result into
// a models.Disassembly. The cumulative deadline is whatever ctx carries;
// each tool command additionally respects StepTimeout.
func (a *Adapter) Analyze(ctx context.Context, path string, depth models.AnalysisDepth, cancelled isCancelled) (*models.Disassembly, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "stat upload blob", err)
	}

	fileInfo, err := a.probeHeader(ctx, path, info.Size())
	if err != nil {
		return nil, err
	}
	if fileInfo.Format == models.FormatRaw && depth != models.AnalysisDepthBasic {
		log.WithComponent("disassembler").Warn().Str("path", path).Msg("unrecognized container format, continuing with raw analysis")
	}

	d := &models.Disassembly{FileInfo: fileInfo}

	if depth == models.AnalysisDepthBasic {
		return d, nil
	}

	funcs, err := a.listFunctions(ctx, path)
	if err != nil {
		return d, apperr.Wrap(apperr.KindToolFailure, "list functions", err)
	}

	imports, err := a.listImports(ctx, path)
	if err != nil {
		d.Warnings = append(d.Warnings, "import extraction failed: "+err.Error())
	} else {
		d.Imports = imports
	}

	exports, err := a.listExports(ctx, path)
	if err != nil {
		d.Warnings = append(d.Warnings, "export extraction failed: "+err.Error())
	} else {
		d.Exports = exports
	}

	sections, err := a.listSections(ctx, path)
	if err != nil {
		d.Warnings = append(d.Warnings, "section extraction failed: "+err.Error())
	} else {
		d.Sections = sections
	}

	maxStrings := 200
	if depth == models.AnalysisDepthComprehensive {
		maxStrings = 1000
	}
	strs, err := a.listStrings(ctx, path, maxStrings)
	if err != nil {
		d.Warnings = append(d.Warnings, "string extraction failed: "+err.Error())
	} else {
		d.Strings = strs
	}

	nonEmpty := 0
	for _, fr := range funcs {
		if cancelled != nil && cancelled() {
			d.Warnings = append(d.Warnings, "analysis cancelled before all functions were listed")
			break
		}
		// The listing command must key off the same address field the
		// function-list record exposed it under. Using a different field
		// name here is the documented class of defect that silently
		// produces empty listings (spec §4.2).
		insns, err := a.listDisassembly(ctx, path, fr.offsetField)
		if err != nil {
			d.Warnings = append(d.Warnings, fmt.Sprintf("disassembly listing failed for function at 0x%x: %v", fr.fn.Address, err))
			d.Functions = append(d.Functions, fr.fn)
			continue
		}
		fr.fn.Assembly = insns
		if len(insns) == 0 {
			d.Warnings = append(d.Warnings, fmt.Sprintf("empty assembly listing for function at 0x%x", fr.fn.Address))
		} else {
			nonEmpty++
		}
		d.Functions = append(d.Functions, fr.fn)
	}

	// If every function listing came back empty, the tool is producing
	// useless output (e.g. the offset/addr field-mixing defect above) and
	// the job must fail loudly rather than proceed to translation.
	if len(funcs) > 0 && nonEmpty == 0 {
		return d, apperr.New(apperr.KindToolFailure, "disassembly listing returned no instructions for any function")
	}

	if depth == models.AnalysisDepthComprehensive {
		a.annotateCrossReferences(d)
	}

	return d, nil
}

func (a *Adapter) probeHeader(ctx context.Context, path string, size int64) (models.FileInfo, error) {
	out, err := a.runJSON(ctx, path, "ij")
	if err != nil {
		// A tool that cannot be started or a step timeout keeps the kind
		// exec gave it; only a tool that ran and rejected the file is an
		// unsupported format.
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return models.FileInfo{}, err
		}
		return models.FileInfo{}, apperr.Wrap(apperr.KindUnsupportedFormat, "probe header", err)
	}

	var hdr struct {
		Core struct {
			Format string `json:"format"`
			Type   string `json:"type"`
			Bits   int    `json:"bits"`
			Arch   string `json:"arch"`
		} `json:"core"`
		Bin struct {
			Baddr json.Number `json:"baddr"`
		} `json:"bin"`
	}
	if err := json.Unmarshal(out, &hdr); err != nil {
		return models.FileInfo{}, apperr.Wrap(apperr.KindUnsupportedFormat, "parse header json", err)
	}

	md5sum, sha256sum, err := hashFile(path)
	if err != nil {
		return models.FileInfo{}, apperr.Wrap(apperr.KindInternal, "hash upload", err)
	}

	entry, _ := hdr.Bin.Baddr.Int64()

	return models.FileInfo{
		Format:       normalizeFormat(hdr.Core.Format),
		Architecture: hdr.Core.Arch,
		Bits:         hdr.Core.Bits,
		EntryPoint:   uint64(entry),
		SizeBytes:    size,
		MD5:          md5sum,
		SHA256:       sha256sum,
	}, nil
}

func normalizeFormat(raw string) models.FileFormat {
	switch raw {
	case "pe", "pe32", "pe64":
		return models.FormatPE
	case "elf", "elf32", "elf64":
		return models.FormatELF
	case "mach0", "macho":
		return models.FormatMachO
	default:
		return models.FormatRaw
	}
}

type funcRecord struct {
	fn          models.Function
	offsetField uint64
}

func (a *Adapter) listFunctions(ctx context.Context, path string) ([]funcRecord, error) {
	if err := a.run(ctx, path, "aaa"); err != nil {
		return nil, fmt.Errorf("analyze all: %w", err)
	}
	out, err := a.runJSON(ctx, path, "aflj")
	if err != nil {
		return nil, fmt.Errorf("list functions: %w", err)
	}

	var raw []struct {
		Name   string      `json:"name"`
		Offset json.Number `json:"offset"`
		Size   json.Number `json:"size"`
		Type   string      `json:"type"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse function list: %w", err)
	}

	recs := make([]funcRecord, 0, len(raw))
	for _, r := range raw {
		offset, _ := r.Offset.Int64()
		size, _ := r.Size.Int64()
		recs = append(recs, funcRecord{
			fn: models.Function{
				Name:      r.Name,
				Address:   uint64(offset),
				SizeBytes: size,
				Type:      normalizeFunctionType(r.Type),
			},
			offsetField: uint64(offset),
		})
	}
	return recs, nil
}

func normalizeFunctionType(t string) models.FunctionType {
	switch t {
	case "imp", "thunk":
		return models.FunctionTypeImportThunk
	case "entry":
		return models.FunctionTypeEntry
	default:
		return models.FunctionTypeFunction
	}
}

func (a *Adapter) listDisassembly(ctx context.Context, path string, offset uint64) ([]models.Instruction, error) {
	cmd := fmt.Sprintf("s 0x%x; pdfj", offset)
	out, err := a.runJSON(ctx, path, cmd)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Ops []struct {
			Offset  json.Number `json:"offset"`
			Bytes   string      `json:"bytes"`
			Opcode  string      `json:"opcode"`
			Comment string      `json:"comment,omitempty"`
			Xrefs   []struct {
				Addr json.Number `json:"addr"`
				Type string      `json:"type"`
			} `json:"xrefs,omitempty"`
		} `json:"ops"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse disassembly listing: %w", err)
	}

	insns := make([]models.Instruction, 0, len(raw.Ops))
	for _, op := range raw.Ops {
		addr, _ := op.Offset.Int64()
		mnemonic, operands := splitOpcode(op.Opcode)
		insn := models.Instruction{
			Address:  uint64(addr),
			BytesHex: op.Bytes,
			Mnemonic: mnemonic,
			Operands: operands,
			Comment:  op.Comment,
		}
		for _, x := range op.Xrefs {
			xa, _ := x.Addr.Int64()
			if x.Type == "CALL" || x.Type == "CODE" {
				insn.XrefsTo = append(insn.XrefsTo, uint64(xa))
			}
		}
		insns = append(insns, insn)
	}
	return insns, nil
}

func splitOpcode(opcode string) (mnemonic, operands string) {
	for i, r := range opcode {
		if r == ' ' {
			return opcode[:i], opcode[i+1:]
		}
	}
	return opcode, ""
}

func (a *Adapter) listImports(ctx context.Context, path string) ([]models.Import, error) {
	out, err := a.runJSON(ctx, path, "iij")
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Name    string      `json:"name"`
		Libname string      `json:"libname"`
		Plt     json.Number `json:"plt"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, err
	}
	out2 := make([]models.Import, 0, len(raw))
	for _, r := range raw {
		addr, _ := r.Plt.Int64()
		out2 = append(out2, models.Import{Library: r.Libname, Name: r.Name, Address: uint64(addr)})
	}
	return out2, nil
}

func (a *Adapter) listExports(ctx context.Context, path string) ([]models.Export, error) {
	out, err := a.runJSON(ctx, path, "iEj")
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Name    string      `json:"name"`
		Vaddr   json.Number `json:"vaddr"`
		Ordinal *int        `json:"ordinal,omitempty"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, err
	}
	out2 := make([]models.Export, 0, len(raw))
	for _, r := range raw {
		addr, _ := r.Vaddr.Int64()
		out2 = append(out2, models.Export{Name: r.Name, Address: uint64(addr), Ordinal: r.Ordinal})
	}
	return out2, nil
}

func (a *Adapter) listSections(ctx context.Context, path string) ([]models.Section, error) {
	out, err := a.runJSON(ctx, path, "iSj")
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Name  string      `json:"name"`
		Vaddr json.Number `json:"vaddr"`
		Size  json.Number `json:"size"`
		Perm  string      `json:"perm"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, err
	}
	out2 := make([]models.Section, 0, len(raw))
	for _, r := range raw {
		vaddr, _ := r.Vaddr.Int64()
		size, _ := r.Size.Int64()
		out2 = append(out2, models.Section{Name: r.Name, VAddr: uint64(vaddr), Size: size, Flags: r.Perm})
	}
	return out2, nil
}

func (a *Adapter) listStrings(ctx context.Context, path string, max int) ([]models.StringFact, error) {
	out, err := a.runJSON(ctx, path, "izzj")
	if err != nil {
		return nil, err
	}
	var raw []struct {
		String  string      `json:"string"`
		Vaddr   json.Number `json:"vaddr"`
		Length  int         `json:"length"`
		Type    string      `json:"type"`
		Section string      `json:"section,omitempty"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	out2 := make([]models.StringFact, 0, len(raw))
	for _, r := range raw {
		if r.Length < 4 {
			continue
		}
		sf := models.StringFact{Content: r.String, Length: r.Length, Encoding: r.Type, Section: r.Section}
		if seen[sf.Key()] {
			continue
		}
		seen[sf.Key()] = true
		addr, _ := r.Vaddr.Int64()
		sf.Address = uint64(addr)
		out2 = append(out2, sf)
		if len(out2) >= max {
			break
		}
	}
	return prioritizeStrings(out2, max), nil
}

// prioritizeStrings keeps strings from .rdata/.rodata first, per spec §4.6.
func prioritizeStrings(strs []models.StringFact, max int) []models.StringFact {
	var priority, rest []models.StringFact
	for _, s := range strs {
		if s.Section == ".rdata" || s.Section == ".rodata" {
			priority = append(priority, s)
		} else {
			rest = append(rest, s)
		}
	}
	out := append(priority, rest...)
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// annotateCrossReferences extracts caller/callee names from the already
// gathered per-function instruction xrefs, for comprehensive-depth jobs.
func (a *Adapter) annotateCrossReferences(d *models.Disassembly) {
	byAddr := make(map[uint64]int, len(d.Functions))
	for i, fn := range d.Functions {
		byAddr[fn.Address] = i
	}
	for i := range d.Functions {
		seen := make(map[string]bool)
		for _, insn := range d.Functions[i].Assembly {
			for _, target := range insn.XrefsTo {
				if idx, ok := byAddr[target]; ok {
					name := d.Functions[idx].Name
					if !seen[name] {
						seen[name] = true
						d.Functions[i].CallsTo = append(d.Functions[i].CallsTo, name)
						d.Functions[idx].CallsFrom = append(d.Functions[idx].CallsFrom, d.Functions[i].Name)
					}
				}
			}
		}
	}
}

func (a *Adapter) run(ctx context.Context, path, command string) error {
	_, err := a.exec(ctx, path, command, false)
	return err
}

func (a *Adapter) runJSON(ctx context.Context, path, command string) ([]byte, error) {
	return a.exec(ctx, path, command, true)
}

// exec spawns one r2 -q -c <command> <path> process, enforcing StepTimeout
// independent of the job's cumulative deadline carried by ctx.
func (a *Adapter) exec(ctx context.Context, path, command string, wantJSON bool) ([]byte, error) {
	stepCtx := ctx
	var cancel context.CancelFunc
	if a.StepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, a.StepTimeout)
		defer cancel()
	}

	tool := a.ToolPath
	if tool == "" {
		tool = "r2"
	}
	cmd := exec.CommandContext(stepCtx, tool, "-q", "-c", command, path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stepCtx.Err() == context.DeadlineExceeded {
			return nil, apperr.New(apperr.KindTimeout, "disassembler step timed out: "+command)
		}
		return nil, apperr.Wrap(apperr.KindToolFailure, "command "+command+": "+firstLine(stderr.String()), err)
	}
	if !wantJSON {
		return stdout.Bytes(), nil
	}
	return bytes.TrimSpace(stdout.Bytes()), nil
}

func firstLine(s string) string {
	sc := bufio.NewScanner(bytes.NewBufferString(s))
	if sc.Scan() {
		return sc.Text()
	}
	return ""
}

func hashFile(path string) (md5hex, sha256hex string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	mh := md5.New()
	sh := sha256.New()
	if _, err := io.Copy(io.MultiWriter(mh, sh), f); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(mh.Sum(nil)), hex.EncodeToString(sh.Sum(nil)), nil
}
