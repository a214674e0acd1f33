package model

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
)

func TestFacilityLocation(t *testing.T) {
	court := func(tz string) Facility { return Facility{Timezone: tz} }

	assert.Equal(t, "Asia/Bangkok", court("Asia/Bangkok").Location().String())
	assert.Equal(t, time.UTC, court("").Location())
	assert.Equal(t, time.UTC, court("Mars/Olympus").Location())
}
