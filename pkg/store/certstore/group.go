package certstore

import (
	"fmt"
	"path/filepath"

	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
)

// Opens the application's own store of a group, <root>/<group>/own
func OpenGroup(params *Params, group string) (*DirectoryStore, error) {
	if group == "" {
		return nil, pki.Missing("group")
	}
	if filepath.Base(group) != group {
		return nil, pki.NewInputError("group", fmt.Sprintf("invalid group name %q", group))
	}
	groupParams := *params
	groupParams.RootDir = GroupDir(params.RootDir, group)
	return NewDirectoryStore(&groupParams)
}

func GroupDir(root, group string) string {
	return fmt.Sprintf("%s/%s/%s", root, group, GROUP_OWN)
}
