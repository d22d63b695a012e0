package apikey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// params chicos para que argon2 no queme memoria en tests
var testParams = Params{Memory: 1024, Time: 1, Parallelism: 1, KeyLen: 32}

func TestGenerateAndVerify(t *testing.T) {
	plain, phc, err := Generate(testParams)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(plain, "vf_"))
	require.True(t, strings.HasPrefix(phc, "$argon2id$v=19$"))

	require.True(t, Verify(plain, phc))
	require.False(t, Verify(plain+"x", phc))
	require.False(t, Verify("vf_otra", phc))
}

func TestVerify_ParsesPHCSegments(t *testing.T) {
	// El PHC trae los params dentro: Verify tiene que recuperarlos del hash,
	// no asumir los defaults.
	phc, err := Hash(Params{Memory: 2048, Time: 2, Parallelism: 2, KeyLen: 16}, "vf_segmentos")
	require.NoError(t, err)
	require.Len(t, strings.Split(phc, "$"), 6)
	require.True(t, Verify("vf_segmentos", phc))

	// Versión o algoritmo ajenos se rechazan aunque la estructura sea válida.
	require.False(t, Verify("vf_segmentos", strings.Replace(phc, "$v=19$", "$v=16$", 1)))
	require.False(t, Verify("vf_segmentos", strings.Replace(phc, "argon2id", "argon2i", 1)))
	// Un segmento de más o de menos tampoco pasa.
	require.False(t, Verify("vf_segmentos", phc+"$extra"))
	require.False(t, Verify("vf_segmentos", strings.TrimSuffix(phc, "$"+strings.Split(phc, "$")[5])))
}

func TestVerify_RejectsMalformed(t *testing.T) {
	plain, phc, err := Generate(testParams)
	require.NoError(t, err)

	require.False(t, Verify("sin-prefijo", phc))
	require.False(t, Verify(plain, "no-es-phc"))
	require.False(t, Verify(plain, ""))
	require.False(t, Verify("", phc))
}

func TestGenerate_KeysAreUnique(t *testing.T) {
	a, _, err := Generate(testParams)
	require.NoError(t, err)
	b, _, err := Generate(testParams)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestHash_SaltedPerCall(t *testing.T) {
	h1, err := Hash(testParams, "vf_misma")
	require.NoError(t, err)
	h2, err := Hash(testParams, "vf_misma")
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
	require.True(t, Verify("vf_misma", h1))
	require.True(t, Verify("vf_misma", h2))
}
