package fault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPanicRecoveredAtInstalledPoint(t *testing.T) {
	p := NewPoint()
	var caught *Value

	func() {
		defer func() {
			v, ok := Recover(recover())
			require.True(t, ok)
			caught = v
		}()
		Panic(p, "boom")
	}()

	require.NotNil(t, caught)
	require.Equal(t, "boom", caught.Message)
	require.Equal(t, "boom", caught.Error())
}

func TestPanicfFormats(t *testing.T) {
	p := NewPoint()
	var caught *Value
	func() {
		defer func() { caught, _ = Recover(recover()) }()
		Panicf(p, "code=%d reason=%s", 7, "bad")
	}()
	require.Equal(t, "code=7 reason=bad", caught.Message)
}

func TestInstallRemoveToggles(t *testing.T) {
	p := &Point{}
	require.False(t, p.Installed())
	p.Install()
	require.True(t, p.Installed())
	p.Remove()
	require.False(t, p.Installed())
}

func TestRecoverNoPanicReturnsFalse(t *testing.T) {
	v, ok := Recover(nil)
	require.False(t, ok)
	require.Nil(t, v)
}

func TestRecoverWrapsNonValuePanic(t *testing.T) {
	var caught *Value
	func() {
		defer func() {
			v, ok := Recover(recover())
			require.True(t, ok)
			caught = v
		}()
		panic("not a *fault.Value")
	}()
	require.Equal(t, "not a *fault.Value", caught.Message)
}

func TestNilPointIsNotInstalled(t *testing.T) {
	var p *Point
	require.False(t, p.Installed())
}
