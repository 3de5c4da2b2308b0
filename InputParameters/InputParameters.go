package InputParameters

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ghodss/yaml"
)

// MeshParameters are read from a YAML or TOML scenario file, fields left out
// keep the values set by the command line
type MeshParameters struct {
	Title     string   `json:"Title" toml:"Title"`
	Dim       int      `json:"Dim" toml:"Dim"`
	Ranks     int      `json:"Ranks" toml:"Ranks"`
	Scenarios []string `json:"Scenarios" toml:"Scenarios"` // one-tree, brick, non-brick or all
	Periodic  string   `json:"Periodic" toml:"Periodic"`   // off, on or both, quote on and off in YAML
	MinLevel  *int     `json:"MinLevel,omitempty" toml:"MinLevel"`
	BrickSize []int    `json:"BrickSize" toml:"BrickSize"`
	Balance   string   `json:"Balance" toml:"Balance"` // face, edge or full
	Strict    bool     `json:"Strict" toml:"Strict"`
}

func (ip *MeshParameters) Parse(data []byte) error {
	return yaml.Unmarshal(data, ip)
}

func (ip *MeshParameters) ParseTOML(data []byte) error {
	return toml.Unmarshal(data, ip)
}

// ReadFile parses path into ip, the format follows the file extension
func (ip *MeshParameters) ReadFile(path string) (err error) {
	var data []byte
	if data, err = os.ReadFile(path); err != nil {
		return
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = ip.Parse(data)
	case ".toml":
		err = ip.ParseTOML(data)
	default:
		return fmt.Errorf("unsupported input file format: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return ip.Validate()
}

func (ip *MeshParameters) Validate() error {
	if ip.Dim != 0 && ip.Dim != 2 && ip.Dim != 3 {
		return fmt.Errorf("Dim must be 2 or 3, have %d", ip.Dim)
	}
	if ip.Ranks < 0 {
		return fmt.Errorf("Ranks must be positive, have %d", ip.Ranks)
	}
	switch strings.ToLower(ip.Periodic) {
	case "", "off", "on", "both":
	default:
		return fmt.Errorf("Periodic must be off, on or both, have %q", ip.Periodic)
	}
	switch strings.ToLower(ip.Balance) {
	case "", "face", "edge", "full":
	default:
		return fmt.Errorf("Balance must be face, edge or full, have %q", ip.Balance)
	}
	if ip.MinLevel != nil && *ip.MinLevel < 0 {
		return fmt.Errorf("MinLevel must not be negative, have %d", *ip.MinLevel)
	}
	if len(ip.BrickSize) != 0 && ip.Dim != 0 && len(ip.BrickSize) != ip.Dim {
		return fmt.Errorf("BrickSize needs %d entries, have %d", ip.Dim, len(ip.BrickSize))
	}
	return nil
}

func (ip *MeshParameters) Print(w io.Writer) {
	fmt.Fprintf(w, "\"%s\"\t\t= Title\n", ip.Title)
	fmt.Fprintf(w, "[%d]\t\t\t\t= Dimension\n", ip.Dim)
	fmt.Fprintf(w, "[%d]\t\t\t\t= Ranks\n", ip.Ranks)
	fmt.Fprintf(w, "%v\t= Scenarios\n", ip.Scenarios)
	fmt.Fprintf(w, "[%s]\t\t\t= Periodic\n", ip.Periodic)
	if ip.MinLevel != nil {
		fmt.Fprintf(w, "[%d]\t\t\t\t= Minimum Level\n", *ip.MinLevel)
	}
	if len(ip.BrickSize) != 0 {
		fmt.Fprintf(w, "%v\t\t\t= Brick Size\n", ip.BrickSize)
	}
	fmt.Fprintf(w, "[%s]\t\t\t= Balance\n", ip.Balance)
	fmt.Fprintf(w, "[%v]\t\t\t= Strict\n", ip.Strict)
}
