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

// Package kube builds Kubernetes API clients from access descriptors (kubeconfig files).
package kube

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// DefaultTimeout bounds every request made through the built clients.
const DefaultTimeout = 10 * time.Second

// ClientFactory builds API clients for the cluster a kubeconfig file points at.
type ClientFactory interface {
	// Clientset returns a typed clientset.
	Clientset(kubeconfigPath string) (kubernetes.Interface, error)
	// Client returns a controller-runtime client using scheme.
	Client(kubeconfigPath string, scheme *runtime.Scheme) (client.Client, error)
}

type factory struct {
	timeout time.Duration
}

var _ ClientFactory = &factory{}

// NewClientFactory returns a factory reading kubeconfig files from disk.
func NewClientFactory() ClientFactory {
	return &factory{timeout: DefaultTimeout}
}

// RESTConfig loads the rest config of the current context of the kubeconfig file.
func RESTConfig(kubeconfigPath string) (*rest.Config, error) {
	clusterConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath},
		&clientcmd.ConfigOverrides{})
	restConfig, err := clusterConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig %q: %w", kubeconfigPath, err)
	}
	return restConfig, nil
}

func (f *factory) restConfig(kubeconfigPath string) (*rest.Config, error) {
	restConfig, err := RESTConfig(kubeconfigPath)
	if err != nil {
		return nil, err
	}
	restConfig.Timeout = f.timeout
	return restConfig, nil
}

func (f *factory) Clientset(kubeconfigPath string) (kubernetes.Interface, error) {
	restConfig, err := f.restConfig(kubeconfigPath)
	if err != nil {
		return nil, err
	}
	cs, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build clientset for %q: %w", kubeconfigPath, err)
	}
	return cs, nil
}

func (f *factory) Client(kubeconfigPath string, scheme *runtime.Scheme) (client.Client, error) {
	restConfig, err := f.restConfig(kubeconfigPath)
	if err != nil {
		return nil, err
	}
	c, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to build client for %q: %w", kubeconfigPath, err)
	}
	return c, nil
}
