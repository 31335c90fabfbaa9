package router

import "strings"

// helpText renders the command list as plain text.
func (m *CommandManager) helpText() string {
	cmds := m.Commands()
	var b strings.Builder
	b.WriteString("commands:\n")
	for _, c := range cmds {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString(usage)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
