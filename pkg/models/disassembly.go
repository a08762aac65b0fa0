package models

// FileFormat is the detected executable container format.
type FileFormat string

const (
	FormatPE    FileFormat = "pe"
	FormatELF   FileFormat = "elf"
	FormatMachO FileFormat = "macho"
	FormatRaw   FileFormat = "raw"
)

// FunctionType classifies an entry in Disassembly.Functions.
type FunctionType string

const (
	FunctionTypeFunction     FunctionType = "function"
	FunctionTypeImportThunk  FunctionType = "import_thunk"
	FunctionTypeEntry        FunctionType = "entry"
)

// FileInfo is the header-level summary of the uploaded binary.
type FileInfo struct {
	Format       FileFormat `json:"format"`
	Architecture string     `json:"architecture"`
	Bits         int        `json:"bits"`
	EntryPoint   uint64     `json:"entry_point"`
	SizeBytes    int64      `json:"size_bytes"`
	MD5          string     `json:"md5"`
	SHA256       string     `json:"sha256"`
}

// Instruction is one disassembled machine instruction with cross-references.
type Instruction struct {
	Address     uint64   `json:"address"`
	BytesHex    string   `json:"bytes_hex"`
	Mnemonic    string   `json:"mnemonic"`
	Operands    string   `json:"operands"`
	Comment     string   `json:"comment,omitempty"`
	XrefsTo     []uint64 `json:"xrefs_to,omitempty"`
	XrefsFrom   []uint64 `json:"xrefs_from,omitempty"`
}

// Function is one function extracted by the disassembler, including its
// full per-instruction listing. The spec treats this listing as the
// highest-value field: empty Assembly must never be silently translated.
type Function struct {
	Name       string        `json:"name"`
	Address    uint64        `json:"address"`
	SizeBytes  int64         `json:"size_bytes"`
	Type       FunctionType  `json:"type"`
	Assembly   []Instruction `json:"assembly"`
	CallsTo    []string      `json:"calls_to,omitempty"`
	CallsFrom  []string      `json:"calls_from,omitempty"`
}

// HasAssembly reports whether the function has a non-empty instruction
// listing — the gate that determines whether it is eligible for
// translation at all (spec invariant 7).
func (f Function) HasAssembly() bool {
	return len(f.Assembly) > 0
}

// Import is a dynamically resolved symbol the binary depends on.
type Import struct {
	Library string `json:"library"`
	Name    string `json:"name"`
	Address uint64 `json:"address"`
}

// Key uniquely identifies an import for translation dedup.
func (i Import) Key() string { return i.Library + "!" + i.Name }

// Export is a symbol the binary exposes.
type Export struct {
	Name    string `json:"name"`
	Address uint64 `json:"address"`
	Ordinal *int   `json:"ordinal,omitempty"`
}

// StringFact is one extracted string literal and its provenance.
type StringFact struct {
	Content  string `json:"content"`
	Address  uint64 `json:"address"`
	Length   int    `json:"length"`
	Encoding string `json:"encoding"`
	Section  string `json:"section,omitempty"`
}

// Key identifies a string for translation dedup.
func (s StringFact) Key() string { return s.Content + "|" + s.Encoding }

// Section is one section/segment of the binary.
type Section struct {
	Name  string `json:"name"`
	VAddr uint64 `json:"vaddr"`
	Size  int64  `json:"size"`
	Flags string `json:"flags"`
}

// Disassembly is the complete structured extraction produced by C2.
type Disassembly struct {
	FileInfo  FileInfo     `json:"file_info"`
	Functions []Function   `json:"functions"`
	Imports   []Import     `json:"imports"`
	Exports   []Export     `json:"exports"`
	Strings   []StringFact `json:"strings"`
	Sections  []Section    `json:"sections"`
	Warnings  []string     `json:"warnings,omitempty"`
}

// FunctionByAddress looks up a function by its canonical address field.
func (d Disassembly) FunctionByAddress(addr uint64) (Function, bool) {
	for _, fn := range d.Functions {
		if fn.Address == addr {
			return fn, true
		}
	}
	return Function{}, false
}
