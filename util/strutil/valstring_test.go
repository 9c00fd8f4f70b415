package strutil

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVtosConvertsCommonKinds(t *testing.T) {
	s, err := Vtos(42)
	require.NoError(t, err)
	require.Equal(t, "42", s)

	s, err = Vtos(true)
	require.NoError(t, err)
	require.Equal(t, "true", s)

	s, err = Vtos("already a string")
	require.NoError(t, err)
	require.Equal(t, "already a string", s)
}

func TestVtosDereferencesPointers(t *testing.T) {
	v := 7
	s, err := Vtos(&v)
	require.NoError(t, err)
	require.Equal(t, "7", s)
}

func TestVtosRejectsNilAndUnsupportedKinds(t *testing.T) {
	_, err := Vtos(nil)
	require.Error(t, err)

	_, err = Vtos(struct{ X int }{X: 1})
	require.Error(t, err)
}

func TestStovParsesNumericAndBoolTypes(t *testing.T) {
	v, err := Stov("123", reflect.TypeOf(int(0)))
	require.NoError(t, err)
	require.Equal(t, int64(123), v)

	v, err = Stov("3.5", reflect.TypeOf(float64(0)))
	require.NoError(t, err)
	require.Equal(t, 3.5, v)

	v, err = Stov("true", reflect.TypeOf(false))
	require.NoError(t, err)
	require.Equal(t, true, v)

	v, err = Stov("hello", reflect.TypeOf(""))
	require.NoError(t, err)
	require.Equal(t, "hello", v)
}

func TestStovRejectsUnsupportedType(t *testing.T) {
	_, err := Stov("x", reflect.TypeOf(struct{}{}))
	require.Error(t, err)
}
