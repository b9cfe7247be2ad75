package job

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/G-Research/paramsweep/internal/sweep/params"
)

// CommandTemplate renders the command line run by a job: the command followed by one --flag per option.
type CommandTemplate struct {
	// Interpreter and script, e.g. "python experimentlauncher.py".
	Command string
	// Options passed to every job. Parameters override options of the same name. An empty value renders as a bare flag.
	Options map[string]string
	// Flag through which the job learns its own identity, so it can name its result artifact. Empty disables it.
	IdentityFlag string
	// Hashed into the identity but not rendered, so that e.g. a confirmation run of the same command gets its own
	// script and result artifact.
	Variant string
}

// Render returns the job identity and the full command line for parameters.
// The identity is the MD5 of the command line without the identity flag, followed by the variant if there is one.
func (c CommandTemplate) Render(parameters params.ParameterSet) (identity string, command string) {
	options := make(map[string]string, len(c.Options)+parameters.Len())
	for k, v := range c.Options {
		options[k] = v
	}
	for k, v := range parameters.Strings() {
		options[k] = v
	}
	delete(options, c.IdentityFlag)

	keys := maps.Keys(options)
	slices.Sort(keys)

	var sb strings.Builder
	sb.WriteString(c.Command)
	for _, k := range keys {
		sb.WriteString(" --")
		sb.WriteString(k)
		if v := options[k]; v != "" {
			sb.WriteString(" ")
			sb.WriteString(v)
		}
	}
	base := sb.String()

	hashed := base
	if c.Variant != "" {
		hashed += "\n" + c.Variant
	}
	sum := md5.Sum([]byte(hashed))
	identity = hex.EncodeToString(sum[:])
	if c.IdentityFlag == "" {
		return identity, base
	}
	return identity, base + " --" + c.IdentityFlag + " " + identity
}
