package dsl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetaCommands(t *testing.T) {
	cmd, err := Parse(".exit")
	require.NoError(t, err)
	assert.Equal(t, CmdExit, cmd.Kind)

	cmd, err = Parse(".ping")
	require.NoError(t, err)
	assert.Equal(t, CmdPing, cmd.Kind)

	cmd, err = Parse(".populate 10")
	require.NoError(t, err)
	assert.Equal(t, CmdPopulate, cmd.Kind)
	assert.Equal(t, uint64(10), cmd.Count)

	cmd, err = Parse(".structure")
	require.NoError(t, err)
	assert.Equal(t, CmdStructure, cmd.Kind)
	assert.Empty(t, cmd.Path)

	cmd, err = Parse(".structure out.dot")
	require.NoError(t, err)
	assert.Equal(t, "out.dot", cmd.Path)
}

func TestParsePopulateMissingArgument(t *testing.T) {
	_, err := Parse(".populate")
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestParseSelect(t *testing.T) {
	cmd, err := Parse("select")
	require.NoError(t, err)
	assert.Equal(t, CmdSelect, cmd.Kind)

	cmd, err = Parse("SELECT")
	require.NoError(t, err)
	assert.Equal(t, CmdSelect, cmd.Kind)
}

func TestParseDelete(t *testing.T) {
	cmd, err := Parse("delete 7")
	require.NoError(t, err)
	assert.Equal(t, CmdDelete, cmd.Kind)
	assert.Equal(t, uint64(7), cmd.ID)
}

func TestParseDeleteMissingID(t *testing.T) {
	_, err := Parse("delete")
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestParseInsertAndUpdate(t *testing.T) {
	cmd, err := Parse("insert 1 ada ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, CmdInsert, cmd.Kind)
	assert.Equal(t, uint64(1), cmd.ID)
	assert.Equal(t, "ada", cmd.Username)
	assert.Equal(t, "ada@example.com", cmd.Email)

	cmd, err = Parse("update 1 grace grace@example.com")
	require.NoError(t, err)
	assert.Equal(t, CmdUpdate, cmd.Kind)
}

func TestParseInsertTooFewArguments(t *testing.T) {
	_, err := Parse("insert 1 ada")
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestParseInsertUsernameTooLong(t *testing.T) {
	long := strings.Repeat("a", MaxUsernameRunes+1)
	_, err := Parse("insert 1 " + long + " a@x.com")
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestParseInsertEmailTooLong(t *testing.T) {
	long := strings.Repeat("a", MaxEmailRunes+1) + "@x.com"
	_, err := Parse("insert 1 ada " + long)
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestParseInsertInvalidID(t *testing.T) {
	_, err := Parse("insert x ada ada@x.com")
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestParseEmptyLine(t *testing.T) {
	_, err := Parse("   ")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestParseUnrecognized(t *testing.T) {
	_, err := Parse("frobnicate")
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestPackUnpackValueRoundTrip(t *testing.T) {
	value := PackValue("ada", "ada@example.com")
	username, email, err := UnpackValue(value)
	require.NoError(t, err)
	assert.Equal(t, "ada", username)
	assert.Equal(t, "ada@example.com", email)
}

func TestUnpackValueMissingSeparator(t *testing.T) {
	_, _, err := UnpackValue([]byte("noseparator"))
	assert.ErrorIs(t, err, ErrMalformedRecord)
}
