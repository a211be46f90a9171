package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Status reports the availability of one external capability.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// lookBinary resolves command on PATH. The returned status is available
// when the binary exists; Command holds the resolved path in that case.
func lookBinary(name, command, description string) Status {
	command = strings.TrimSpace(command)
	st := Status{Name: name, Command: command, Description: description}
	if command == "" {
		st.Detail = "command not configured"
		return st
	}
	resolved, err := exec.LookPath(command)
	if err != nil {
		st.Detail = fmt.Sprintf("binary %q not found", command)
		return st
	}
	st.Command = resolved
	st.Available = true
	return st
}
