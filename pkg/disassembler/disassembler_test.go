package disassembler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

func TestNormalizeFormat(t *testing.T) {
	tests := []struct {
		raw  string
		want models.FileFormat
	}{
		{"pe", models.FormatPE},
		{"pe32", models.FormatPE},
		{"pe64", models.FormatPE},
		{"elf", models.FormatELF},
		{"elf64", models.FormatELF},
		{"mach0", models.FormatMachO},
		{"macho", models.FormatMachO},
		{"anything-else", models.FormatRaw},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeFormat(tt.raw), tt.raw)
	}
}

func TestNormalizeFunctionType(t *testing.T) {
	assert.Equal(t, models.FunctionTypeImportThunk, normalizeFunctionType("imp"))
	assert.Equal(t, models.FunctionTypeImportThunk, normalizeFunctionType("thunk"))
	assert.Equal(t, models.FunctionTypeEntry, normalizeFunctionType("entry"))
	assert.Equal(t, models.FunctionTypeFunction, normalizeFunctionType("fcn"))
}

func TestSplitOpcode(t *testing.T) {
	mnemonic, operands := splitOpcode("mov eax, ebx")
	assert.Equal(t, "mov", mnemonic)
	assert.Equal(t, "eax, ebx", operands)

	mnemonic, operands = splitOpcode("ret")
	assert.Equal(t, "ret", mnemonic)
	assert.Empty(t, operands)
}

func TestPrioritizeStrings_RdataFirstThenTruncated(t *testing.T) {
	strs := []models.StringFact{
		{Content: "a", Section: ".text"},
		{Content: "b", Section: ".rdata"},
		{Content: "c", Section: ".text"},
		{Content: "d", Section: ".rodata"},
	}
	out := prioritizeStrings(strs, 3)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].Content)
	assert.Equal(t, "d", out[1].Content)
	assert.Equal(t, "a", out[2].Content)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "first", firstLine("first\nsecond\nthird"))
	assert.Equal(t, "", firstLine(""))
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.bin")
	require.NoError(t, os.WriteFile(path, []byte("MZ some bytes"), 0o600))

	md5sum, sha256sum, err := hashFile(path)
	require.NoError(t, err)
	assert.Len(t, md5sum, 32)
	assert.Len(t, sha256sum, 64)

	md5sum2, sha256sum2, err := hashFile(path)
	require.NoError(t, err)
	assert.Equal(t, md5sum, md5sum2)
	assert.Equal(t, sha256sum, sha256sum2)
}

func TestAnnotateCrossReferences(t *testing.T) {
	a := &Adapter{}
	d := &models.Disassembly{
		Functions: []models.Function{
			{Name: "main", Address: 0x100, Assembly: []models.Instruction{
				{XrefsTo: []uint64{0x200}},
			}},
			{Name: "helper", Address: 0x200},
		},
	}
	a.annotateCrossReferences(d)
	require.Len(t, d.Functions[0].CallsTo, 1)
	assert.Equal(t, "helper", d.Functions[0].CallsTo[0])
	assert.Empty(t, d.Functions[1].CallsTo)
}

// fakeRadare2Script writes a shell script standing in for the r2 binary:
// it prints one canned JSON body per -c command regardless of input,
// enough to exercise Adapter.exec's happy path without a real tool.
func fakeRadare2Script(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-r2.sh")
	content := "#!/bin/sh\ncat <<'EOF'\n" + body + "\nEOF\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o700))
	return script
}

func TestAdapter_ProbeHeader_UsesToolOutput(t *testing.T) {
	script := fakeRadare2Script(t, `{"core":{"format":"pe","type":"exe","bits":64,"arch":"x86"},"bin":{"baddr":"4194304"}}`)
	a := NewAdapter(script, 0)

	dir := t.TempDir()
	sample := filepath.Join(dir, "sample.exe")
	require.NoError(t, os.WriteFile(sample, []byte("MZ"), 0o600))

	info, err := a.probeHeader(context.Background(), sample, 2)
	require.NoError(t, err)
	assert.Equal(t, models.FormatPE, info.Format)
	assert.Equal(t, "x86", info.Architecture)
	assert.Equal(t, 64, info.Bits)
	assert.Equal(t, uint64(4194304), info.EntryPoint)
	assert.Equal(t, int64(2), info.SizeBytes)
}

func TestAdapter_Analyze_BasicDepthSkipsFunctionListing(t *testing.T) {
	script := fakeRadare2Script(t, `{"core":{"format":"elf","type":"exe","bits":32,"arch":"arm"},"bin":{"baddr":"0"}}`)
	a := NewAdapter(script, 0)

	dir := t.TempDir()
	sample := filepath.Join(dir, "sample.elf")
	require.NoError(t, os.WriteFile(sample, []byte("\x7fELF"), 0o600))

	d, err := a.Analyze(context.Background(), sample, models.AnalysisDepthBasic, nil)
	require.NoError(t, err)
	assert.Equal(t, models.FormatELF, d.FileInfo.Format)
	assert.Empty(t, d.Functions)
}

// fakeRadare2CommandScript writes a shell script that branches on the r2
// "-c <command>" argument ($3), standing in for the handful of distinct
// commands Analyze issues at standard/comprehensive depth.
func fakeRadare2CommandScript(t *testing.T, pdfjBody string) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-r2.sh")
	content := `#!/bin/sh
case "$3" in
  ij)
    cat <<'EOF'
{"core":{"format":"elf","type":"exe","bits":64,"arch":"x86"},"bin":{"baddr":"0"}}
EOF
    ;;
  aflj)
    cat <<'EOF'
[{"name":"fcn.sample","offset":4096,"size":16,"type":"fcn"}]
EOF
    ;;
  aaa) ;;
  *pdfj*)
    echo '` + pdfjBody + `'
    ;;
  *)
    echo '[]'
    ;;
esac
`
	require.NoError(t, os.WriteFile(script, []byte(content), 0o700))
	return script
}

func TestAdapter_Analyze_StandardDepthAllEmptyListingsIsToolFailure(t *testing.T) {
	script := fakeRadare2CommandScript(t, `{"ops":[]}`)
	a := NewAdapter(script, 0)

	dir := t.TempDir()
	sample := filepath.Join(dir, "sample.elf")
	require.NoError(t, os.WriteFile(sample, []byte("\x7fELF"), 0o600))

	_, err := a.Analyze(context.Background(), sample, models.AnalysisDepthStandard, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindToolFailure))
}

func TestAdapter_Analyze_StandardDepthSomeNonEmptyListingSucceeds(t *testing.T) {
	script := fakeRadare2CommandScript(t, `{"ops":[{"offset":4096,"bytes":"90","opcode":"nop"}]}`)
	a := NewAdapter(script, 0)

	dir := t.TempDir()
	sample := filepath.Join(dir, "sample.elf")
	require.NoError(t, os.WriteFile(sample, []byte("\x7fELF"), 0o600))

	d, err := a.Analyze(context.Background(), sample, models.AnalysisDepthStandard, nil)
	require.NoError(t, err)
	require.Len(t, d.Functions, 1)
	require.Len(t, d.Functions[0].Assembly, 1)
	assert.Equal(t, "nop", d.Functions[0].Assembly[0].Mnemonic)
}

func TestAdapter_Exec_MissingToolReturnsToolFailure(t *testing.T) {
	a := NewAdapter("/nonexistent/r2-binary-should-not-exist", 0)
	dir := t.TempDir()
	sample := filepath.Join(dir, "sample.bin")
	require.NoError(t, os.WriteFile(sample, []byte("x"), 0o600))

	_, err := a.probeHeader(context.Background(), sample, 1)
	assert.True(t, apperr.Is(err, apperr.KindToolFailure))
}
