/*
Copyright 2025 The KubeFleet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package condition

// A group of condition reason strings used to populate the member cluster conditions.
const (
	// ProvisioningReason is the reason of the Provisioned condition while the container is being launched.
	ProvisioningReason = "Provisioning"

	// ContainerRunningReason is the reason of the Provisioned condition once the container is running.
	ContainerRunningReason = "ContainerRunning"

	// ContainerReusedReason is the reason of the Provisioned condition when an existing container was reused.
	ContainerReusedReason = "ContainerReused"

	// ProvisionFailedReason is the reason of the Provisioned condition when the launch failed.
	ProvisionFailedReason = "ProvisionFailed"

	// BootstrapSucceededReason is the reason of the Bootstrapped condition when the distribution is ready.
	BootstrapSucceededReason = "DistributionReady"

	// BootstrapFailedReason is the reason of the Bootstrapped condition when installation or readiness failed.
	BootstrapFailedReason = "BootstrapFailed"

	// APIExposedReason is the reason of the APIExposed condition when the api proxy device is in place.
	APIExposedReason = "ProxyDeviceAttached"

	// APIExposeFailedReason is the reason of the APIExposed condition when the api proxy device could not be added.
	APIExposeFailedReason = "ProxyDeviceFailed"

	// CredentialRewrittenReason is the reason of the CredentialRewritten condition once the access descriptor
	// points at the host port.
	CredentialRewrittenReason = "ServerRewritten"

	// CredentialRewriteFailedReason is the reason of the CredentialRewritten condition when the rewrite failed.
	CredentialRewriteFailedReason = "ServerRewriteFailed"

	// HealthyReason is the reason of the Healthy condition when the member API answered through the host port.
	HealthyReason = "APIReachable"

	// UnhealthyReason is the reason of the Healthy condition when the member API never answered.
	UnhealthyReason = "APIUnreachable"

	// JoinSucceededReason is the reason of the Joined condition after a successful join.
	JoinSucceededReason = "JoinSucceeded"

	// JoinRepairedReason is the reason of the Joined condition when a stale registration was removed first.
	JoinRepairedReason = "JoinRepaired"

	// JoinFailedReason is the reason of the Joined condition when the join command failed.
	JoinFailedReason = "JoinFailed"

	// UnjoinedReason is the reason of the Joined condition once the registration has been removed.
	UnjoinedReason = "Unjoined"

	// ReadyReason is the reason of the Ready condition when the control plane reports the member Ready.
	ReadyReason = "MemberReady"

	// NotReadyReason is the reason of the Ready condition when the member did not become Ready in time.
	NotReadyReason = "MemberNotReady"
)
