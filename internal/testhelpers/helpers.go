package testhelpers

import (
	"io/ioutil"
	"os"
	"path"
	"testing"
)

var testPrefix = "ctest"

func TempDir(t *testing.T) (string, func()) {
	tdir, err := ioutil.TempDir("", testPrefix)
	if err != nil {
		t.Fatal(err)
	}
	return tdir, func() {
		err = os.RemoveAll(tdir)
		if err != nil {
			t.Fatal(err)
		}
	}
}

// WriteConfig writes a config file under dir with owner-only access
// and returns its path.
func WriteConfig(t *testing.T, dir, name, content string) string {
	cfgPath := path.Join(dir, name)
	if err := ioutil.WriteFile(cfgPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}
