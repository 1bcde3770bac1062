package logicaltime_test

import (
	"testing"

	"docengine/logicaltime"

	"github.com/stretchr/testify/assert"
)

func TestTimeTicketCompareOrdersByLamportFirst(t *testing.T) {
	a, b := logicaltime.NewActorID(), logicaltime.NewActorID()
	low := logicaltime.NewTimeTicket(1, 0, b)
	high := logicaltime.NewTimeTicket(2, 0, a)

	assert.True(t, high.After(low))
	assert.Negative(t, low.Compare(high))
}

func TestTimeTicketCompareTiesBreakOnActorThenDelimiter(t *testing.T) {
	a, b := logicaltime.NewActorID(), logicaltime.NewActorID()
	if a.Compare(b) > 0 {
		a, b = b, a
	}

	t1 := logicaltime.NewTimeTicket(5, 0, a)
	t2 := logicaltime.NewTimeTicket(5, 0, b)
	assert.Negative(t, t1.Compare(t2), "lower actor id sorts first within the same lamport")

	t3 := logicaltime.NewTimeTicket(5, 0, a)
	t4 := logicaltime.NewTimeTicket(5, 1, a)
	assert.Negative(t, t3.Compare(t4), "lower delimiter sorts first within the same (lamport, actor)")
}

func TestTimeTicketEqual(t *testing.T) {
	actor := logicaltime.NewActorID()
	t1 := logicaltime.NewTimeTicket(3, 2, actor)
	t2 := logicaltime.NewTimeTicket(3, 2, actor)
	assert.True(t, t1.Equal(t2))
	assert.False(t, t1.After(t2))
}

func TestInitialTimeTicketIsBeforeEverything(t *testing.T) {
	actor := logicaltime.NewActorID()
	real := logicaltime.NewTimeTicket(1, 0, actor)
	assert.True(t, real.After(logicaltime.InitialTimeTicket))
}

func TestSetDelimiterLeavesLamportAndActorUnchanged(t *testing.T) {
	actor := logicaltime.NewActorID()
	orig := logicaltime.NewTimeTicket(7, 0, actor)
	withDelim := orig.SetDelimiter(3)

	assert.EqualValues(t, 7, withDelim.Lamport)
	assert.Equal(t, actor, withDelim.Actor)
	assert.EqualValues(t, 3, withDelim.Delimiter)
}
