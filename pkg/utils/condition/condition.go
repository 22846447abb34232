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

// Package condition provides condition related utils.
package condition

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
)

// EqualCondition compares one condition with another; it ignores the LastTransitionTime and Message fields,
// and will consider the ObservedGeneration values from the two conditions a match if the current
// condition is newer.
func EqualCondition(current, desired *metav1.Condition) bool {
	if current == nil && desired == nil {
		return true
	}
	return current != nil &&
		desired != nil &&
		current.Type == desired.Type &&
		current.Status == desired.Status &&
		current.Reason == desired.Reason &&
		current.ObservedGeneration >= desired.ObservedGeneration
}

// IsConditionStatusTrue returns true if the condition is present and true.
func IsConditionStatusTrue(cond *metav1.Condition) bool {
	return cond != nil && cond.Status == metav1.ConditionTrue
}

// IsConditionStatusFalse returns true if the condition is present and false.
func IsConditionStatusFalse(cond *metav1.Condition) bool {
	return cond != nil && cond.Status == metav1.ConditionFalse
}

// TrueCondition builds a true condition of the given type.
func TrueCondition(conditionType clusterv1beta1.MemberClusterConditionType, reason, message string) metav1.Condition {
	return metav1.Condition{
		Type:               string(conditionType),
		Status:             metav1.ConditionTrue,
		Reason:             reason,
		Message:            message,
		LastTransitionTime: metav1.Now(),
	}
}

// FalseCondition builds a false condition of the given type. The message carries the error when one is given.
func FalseCondition(conditionType clusterv1beta1.MemberClusterConditionType, reason string, err error) metav1.Condition {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return metav1.Condition{
		Type:               string(conditionType),
		Status:             metav1.ConditionFalse,
		Reason:             reason,
		Message:            msg,
		LastTransitionTime: metav1.Now(),
	}
}

// UnknownCondition builds an unknown condition, used while a stage is in progress.
func UnknownCondition(conditionType clusterv1beta1.MemberClusterConditionType, reason string) metav1.Condition {
	return metav1.Condition{
		Type:               string(conditionType),
		Status:             metav1.ConditionUnknown,
		Reason:             reason,
		Message:            fmt.Sprintf("%s is in progress", conditionType),
		LastTransitionTime: metav1.Now(),
	}
}
