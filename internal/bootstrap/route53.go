package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"

	"overlay/internal/domain"
)

// Route53 publishes this peer's address as an SRV record so other peers'
// DNS-mode Discoverer can find it (spec §6.3's register block). It carries
// no Discover of its own: DNS-mode discovery against the records it
// publishes is done by DNS, so Route53 is normally paired with a DNS (or
// Static) Discoverer rather than used as a full Bootstrap on its own.
type Route53 struct {
	NopDiscoverer
	client       *route53.Client
	hostedZoneID string
	domainSuffix string
	ttl          int64
}

// NewRoute53 loads AWS credentials from the default chain (environment,
// shared config, instance role) exactly like the teacher's
// NewRoute53Registrar.
func NewRoute53(ctx context.Context, hostedZoneID, domainSuffix string, ttl int64) (*Route53, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Route53{
		client:       route53.NewFromConfig(cfg),
		hostedZoneID: hostedZoneID,
		domainSuffix: strings.TrimSuffix(domainSuffix, "."),
		ttl:          ttl,
	}, nil
}

func (r *Route53) recordName(self domain.NodeInfo) string {
	return fmt.Sprintf("%s.%s.", self.UUID.String(), r.domainSuffix)
}

func (r *Route53) Register(ctx context.Context, self domain.NodeInfo) error {
	return r.change(ctx, types.ChangeActionUpsert, self)
}

func (r *Route53) Deregister(ctx context.Context, self domain.NodeInfo) error {
	return r.change(ctx, types.ChangeActionDelete, self)
}

func (r *Route53) change(ctx context.Context, action types.ChangeAction, self domain.NodeInfo) error {
	host := strings.TrimSuffix(self.Physical.IP, ".")
	input := &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(r.hostedZoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{
				{
					Action: action,
					ResourceRecordSet: &types.ResourceRecordSet{
						Name: aws.String(r.recordName(self)),
						Type: types.RRTypeSrv,
						TTL:  aws.Int64(r.ttl),
						ResourceRecords: []types.ResourceRecord{
							{Value: aws.String(fmt.Sprintf("0 0 %d %s.", self.Physical.Port, host))},
						},
					},
				},
			},
		},
	}
	_, err := r.client.ChangeResourceRecordSets(ctx, input)
	return err
}

// NopDiscoverer answers Discover with an empty list, for Registrar-only
// implementations that rely on a separate Discoverer (DNS or Static) to
// actually find peers.
type NopDiscoverer struct{}

func (NopDiscoverer) Discover(context.Context) ([]string, error) { return nil, nil }

var _ Bootstrap = (*Route53)(nil)
