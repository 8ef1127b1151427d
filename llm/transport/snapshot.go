package transport

import "os"

// writeFileAtomic writes a debug payload snapshot via a temp-file-then-rename
// sequence so a concurrent reader never observes a partial write, mirroring
// llm/auth's FileTokenStore.Save pattern.
func writeFileAtomic(path string, body []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
