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

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/api/meta"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
	"go.goms.io/fleetbed/pkg/utils/controller"
)

var _ = Describe("Adding a member to a fleet of three Ready members", Ordered, func() {
	var (
		h      *harness
		member *clusterv1beta1.MemberCluster
		ctx    = context.Background()
	)

	BeforeAll(func() {
		h = newHarness(GinkgoT().TempDir(), Options{})
		var err error
		member, err = h.rec.Add(ctx, "member4")
		Expect(err).Should(Succeed())
	})

	It("should bring the new member to Ready", func() {
		Expect(member.ContainerState).Should(Equal(clusterv1beta1.ContainerStateRunning))
		Expect(member.FederationState).Should(Equal(clusterv1beta1.FederationStateReady))
		Expect(h.host.IsReady("member4")).Should(BeTrue())
		for _, condType := range []clusterv1beta1.MemberClusterConditionType{
			clusterv1beta1.ConditionTypeProvisioned,
			clusterv1beta1.ConditionTypeBootstrapped,
			clusterv1beta1.ConditionTypeAPIExposed,
			clusterv1beta1.ConditionTypeCredentialRewritten,
			clusterv1beta1.ConditionTypeHealthy,
			clusterv1beta1.ConditionTypeJoined,
			clusterv1beta1.ConditionTypeReady,
		} {
			Expect(meta.IsStatusConditionTrue(member.Conditions, string(condType))).Should(BeTrue(), "condition %s", condType)
		}
	})

	It("should expose the API on the lowest free host port", func() {
		Expect(member.APIHostPort).Should(Equal(16445))
		c, ok := h.host.Container("member4")
		Expect(ok).Should(BeTrue())
		Expect(c.Devices).Should(HaveKeyWithValue("proxy-k8s", HaveKeyWithValue("listen", "tcp:0.0.0.0:16445")))
		Expect(c.Devices["proxy-k8s"]).Should(HaveKeyWithValue("connect", "tcp:127.0.0.1:16443"))
	})

	It("should write an access descriptor pointing at the host port", func() {
		Expect(member.AccessDescriptorPath).Should(Equal(h.descriptor("member4")))
		data, err := os.ReadFile(member.AccessDescriptorPath)
		Expect(err).Should(Succeed())
		Expect(string(data)).Should(ContainSubstring(":16445"))
		Expect(string(data)).ShouldNot(ContainSubstring(":16443"))
	})

	It("should leave the existing members untouched", func() {
		for name, port := range readyMembers {
			for _, call := range h.host.Runner().Calls() {
				Expect(strings.Contains(call, " "+name+" ") || strings.HasSuffix(call, " "+name)).Should(BeFalse(),
					"command %q touched %s", call, name)
			}
			Expect(h.host.IsReady(name)).Should(BeTrue())
			c, _ := h.host.Container(name)
			Expect(c.Devices["proxy-k8s"]).Should(HaveKeyWithValue("listen", fmt.Sprintf("tcp:0.0.0.0:%d", port)))
		}
		Expect(h.rec.Fleet().Names()).Should(Equal([]string{"member1", "member2", "member3", "member4"}))
	})

	It("should refuse to add the same member again", func() {
		_, err := h.rec.Add(ctx, "member4")
		Expect(err).Should(HaveOccurred())
		var stageErr *StageError
		Expect(errors.As(err, &stageErr)).Should(BeTrue())
		Expect(stageErr.Stage).Should(Equal(StagePrecheck))
		Expect(errors.Is(err, controller.ErrInconsistentState)).Should(BeTrue())
		Expect(h.host.IsReady("member4")).Should(BeTrue())
	})
})
