package status

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

const (
	StateReady        = "READY"
	StateProgressing  = "PROGRESSING"
	StateScaledToZero = "SCALED_TO_ZERO"
)

// KubeSource reads live status straight from the function's Deployment.
type KubeSource struct {
	client    kubernetes.Interface
	namespace string
	prefix    string
}

var _ Source = &KubeSource{}

func NewKubeSource(client kubernetes.Interface, namespace, prefix string) *KubeSource {
	return &KubeSource{client: client, namespace: namespace, prefix: prefix}
}

// NewKubeClient builds a clientset from a kubeconfig path. An empty path uses
// the in-cluster configuration.
func NewKubeClient(kubeconfig string) (kubernetes.Interface, error) {
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(cfg)
}

func (k *KubeSource) GetLiveStatus(ctx context.Context, id string) (function.LiveStatus, error) {
	dep, err := k.client.AppsV1().Deployments(k.namespace).Get(ctx, k.prefix+id, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return function.LiveStatus{}, function.ErrDeploymentNotFound
	}
	if err != nil {
		return function.LiveStatus{}, err
	}

	desired := 1
	if dep.Spec.Replicas != nil {
		desired = int(*dep.Spec.Replicas)
	}
	available := int(dep.Status.AvailableReplicas)

	state := StateProgressing
	switch {
	case desired == 0:
		state = StateScaledToZero
	case available >= desired:
		state = StateReady
	}

	return function.LiveStatus{
		State:             state,
		ReplicasDesired:   desired,
		ReplicasAvailable: available,
	}, nil
}
