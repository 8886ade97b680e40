package errs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomwork/loomwork/errs"
)

func TestIsTransientClosedSet(t *testing.T) {
	transientKinds := []errs.Kind{errs.KindModelThrottle, errs.KindModelTransient}
	for _, k := range transientKinds {
		assert.True(t, errs.IsTransient(k), "%s should be transient", k)
	}

	terminalKinds := []errs.Kind{
		errs.KindValidation,
		errs.KindConfiguration,
		errs.KindCyclicGraph,
		errs.KindUnknownDependency,
		errs.KindModelFatal,
		errs.KindToolNotFound,
		errs.KindToolFailure,
		errs.KindStepTimeout,
		errs.KindWorkflowTimeout,
		errs.KindCancelled,
	}
	for _, k := range terminalKinds {
		assert.False(t, errs.IsTransient(k), "%s should not be transient", k)
	}
}

func TestIsTransientUnknownKindIsTerminal(t *testing.T) {
	assert.False(t, errs.IsTransient(errs.Kind("not_a_real_kind")))
}
