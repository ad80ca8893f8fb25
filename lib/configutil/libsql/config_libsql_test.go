package configlibsql

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenDBFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "iptu.db")
	db, err := Struct{File: path}.OpenDB("create table if not exists t (id integer primary key);")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("insert into t (id) values (1)")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow("select count(*) from t").Scan(&count))
	require.Equal(t, 1, count)
}

func TestOpenDBRequiresPath(t *testing.T) {
	_, err := Struct{}.OpenDB("")
	require.Error(t, err)
}
