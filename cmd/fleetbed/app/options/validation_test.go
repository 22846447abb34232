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

package options

import (
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// a callback function to modify options
type ModifyOptions func(option *Options)

// New an Options with default parameters
func New(modifyOptions ModifyOptions) Options {
	option := *NewOptions()
	option.KubeconfigDir = "/home/ubuntu/.kube"
	option.KarmadaKubeconfig = "/home/ubuntu/.kube/karmada.config"

	if modifyOptions != nil {
		modifyOptions(&option)
	}
	return option
}

func TestValidateOptions(t *testing.T) {
	successCases := []Options{
		New(nil),
		New(func(o *Options) { o.JoinMode = "pull" }),
		New(func(o *Options) { o.Output = OutputYAML }),
	}

	for _, successCase := range successCases {
		if errs := successCase.Validate(); len(errs) != 0 {
			t.Errorf("expected success: %v", errs)
		}
	}

	newPath := field.NewPath("Options")
	testCases := map[string]struct {
		opt          Options
		expectedErrs field.ErrorList
	}{
		"unknown join mode": {
			opt: New(func(o *Options) {
				o.JoinMode = "sideways"
			}),
			expectedErrs: field.ErrorList{field.NotSupported(newPath.Child("JoinMode"), "sideways", []string{"push", "pull"})},
		},
		"no health check attempts": {
			opt: New(func(o *Options) {
				o.HealthCheckAttempts = 0
			}),
			expectedErrs: field.ErrorList{field.Invalid(newPath.Child("HealthCheckAttempts"), 0, "must be greater than 0")},
		},
		"negative ready wait interval": {
			opt: New(func(o *Options) {
				o.ReadyWaitInterval.Duration = -10 * time.Second
			}),
			expectedErrs: field.ErrorList{field.Invalid(newPath.Child("ReadyWaitInterval"), metav1.Duration{Duration: -10 * time.Second}, "must be greater than 0")},
		},
		"zero container ready timeout": {
			opt: New(func(o *Options) {
				o.ContainerReadyTimeout.Duration = 0
			}),
			expectedErrs: field.ErrorList{field.Invalid(newPath.Child("ContainerReadyTimeout"), metav1.Duration{}, "must be greater than 0")},
		},
		"missing karmada kubeconfig and bad output": {
			opt: New(func(o *Options) {
				o.KarmadaKubeconfig = ""
				o.Output = "wide"
			}),
			expectedErrs: field.ErrorList{
				field.Required(newPath.Child("KarmadaKubeconfig"), "must be set"),
				field.NotSupported(newPath.Child("Output"), "wide", []string{OutputTable, OutputJSON, OutputYAML}),
			},
		},
	}

	for name, testCase := range testCases {
		errs := testCase.opt.Validate()
		if len(testCase.expectedErrs) != len(errs) {
			t.Fatalf("%s: expected %d errors, got %d errors: %v", name, len(testCase.expectedErrs), len(errs), errs)
		}
		for i, err := range errs {
			if err.Error() != testCase.expectedErrs[i].Error() {
				t.Fatalf("%s: expected error: %s, got %s", name, testCase.expectedErrs[i], err.Error())
			}
		}
	}
}

func TestValidateChaosOptions(t *testing.T) {
	if errs := NewChaosOptions().Validate(); len(errs) != 0 {
		t.Errorf("default chaos options: %v", errs)
	}

	newPath := field.NewPath("ChaosOptions")
	testCases := map[string]struct {
		modify       func(o *ChaosOptions)
		expectedErrs field.ErrorList
	}{
		"probability above one": {
			modify:       func(o *ChaosOptions) { o.DownProbability = 1.5 },
			expectedErrs: field.ErrorList{field.Invalid(newPath.Child("DownProbability"), 1.5, "must be between 0 and 1 inclusive")},
		},
		"zero interval": {
			modify:       func(o *ChaosOptions) { o.Interval.Duration = 0 },
			expectedErrs: field.ErrorList{field.Invalid(newPath.Child("Interval"), metav1.Duration{}, "must be greater than 0")},
		},
		"serving metrics": {
			modify: func(o *ChaosOptions) { o.MetricsBindAddress = ":8080" },
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			o := NewChaosOptions()
			tc.modify(o)
			errs := o.Validate()
			if len(tc.expectedErrs) != len(errs) {
				t.Fatalf("expected %d errors, got %d errors: %v", len(tc.expectedErrs), len(errs), errs)
			}
			for i, err := range errs {
				if err.Error() != tc.expectedErrs[i].Error() {
					t.Errorf("expected error: %s, got %s", tc.expectedErrs[i], err.Error())
				}
			}
		})
	}
}

func TestValidateVerifyOptions(t *testing.T) {
	if errs := NewVerifyOptions().Validate(); len(errs) != 0 {
		t.Errorf("default verify options: %v", errs)
	}
	o := NewVerifyOptions()
	o.ProbeHost = ""
	if errs := o.Validate(); len(errs) != 1 {
		t.Errorf("expected one error, got %v", errs)
	}
}
