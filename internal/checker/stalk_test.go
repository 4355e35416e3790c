package checker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/objects"
)

func TestServiceShouldStalkRequiresOutputChange(t *testing.T) {
	svc := &objects.Service{StalingOptions: objects.StalkOptionServiceCritical}
	require.False(t, ServiceShouldStalk(svc, objects.ServiceCritical, "same", "same"))
	require.True(t, ServiceShouldStalk(svc, objects.ServiceCritical, "same", "different"))
}

func TestServiceShouldStalkRequiresBitSet(t *testing.T) {
	svc := &objects.Service{StalingOptions: objects.StalkOptionServiceOK}
	require.False(t, ServiceShouldStalk(svc, objects.ServiceCritical, "a", "b"))
	require.True(t, ServiceShouldStalk(svc, objects.ServiceOK, "a", "b"))
}

func TestHostShouldStalk(t *testing.T) {
	h := &objects.Host{StalingOptions: objects.StalkOptionHostDown}
	require.False(t, HostShouldStalk(h, objects.HostUp, "a", "b"))
	require.True(t, HostShouldStalk(h, objects.HostDown, "a", "b"))
	require.False(t, HostShouldStalk(h, objects.HostDown, "same", "same"))
}
