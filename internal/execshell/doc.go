// Package execshell runs external tools such as the gh CLI and captures their output.
package execshell
