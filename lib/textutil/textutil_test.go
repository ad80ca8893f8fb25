package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFold(t *testing.T) {
	require.Equal(t, "nao cobrar", Fold("  Não\n\tCOBRAR "))
	require.Equal(t, "quitado", Fold("QUITADO"))
	require.Equal(t, "codigo reduzido", Fold("Código Reduzido"))
}

func TestContainsAny(t *testing.T) {
	require.True(t, ContainsAny("Parcela QUITADA em 10/01", []string{"quitad"}))
	require.False(t, ContainsAny("Em aberto", []string{"quitad", "nao cobrar"}))
	require.False(t, ContainsAny("anything", []string{""}))
}
