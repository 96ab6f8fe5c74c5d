package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLog_TamperEvidence(t *testing.T) {
	log := NewLog()

	entry1, err := log.Append("member:0xabc", "CREATE_PROPOSAL", "proposal:0", "asset=7")
	assert.NoError(t, err)
	assert.NotEmpty(t, entry1.Hash)
	assert.Empty(t, entry1.PreviousHash)

	entry2, err := log.Append("member:0xdef", "VOTE", "proposal:0", "token=3 choice=YAY")
	assert.NoError(t, err)
	assert.Equal(t, entry1.Hash, entry2.PreviousHash)

	entry3, err := log.Append("system", "EXECUTE", "proposal:0", "outcome=PURCHASED")
	assert.NoError(t, err)
	assert.Equal(t, entry2.Hash, entry3.PreviousHash)

	valid, err := log.VerifyChain()
	assert.NoError(t, err)
	assert.True(t, valid, "chain should be valid")

	// Tamper with middle entry content.
	log.tamper(1, func(e *Entry) { e.Details = "token=3 choice=NAY" })
	valid, err = log.VerifyChain()
	assert.False(t, valid, "chain should be invalid after content tampering")
	if err != nil {
		assert.Contains(t, err.Error(), "integrity failure at index 1")
	}

	// Restore content, then break the link.
	log.tamper(1, func(e *Entry) { e.Details = "token=3 choice=YAY" })
	log.tamper(2, func(e *Entry) { e.PreviousHash = "deadbeef" })
	valid, err = log.VerifyChain()
	assert.False(t, valid, "chain should be invalid after link tampering")
	if err != nil {
		assert.Contains(t, err.Error(), "chain broken at index 2")
	}
}

func TestLog_EmptyChainIsValid(t *testing.T) {
	log := NewLog()
	valid, err := log.VerifyChain()
	assert.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, 0, log.Len())
}
