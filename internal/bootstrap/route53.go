package bootstrap

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"

	dhtconfig "dhtnode/internal/config"
	"dhtnode/internal/domain"
)

// Route53Bootstrap discovers and advertises peer-RPC addresses as SRV
// records in an AWS Route53 hosted zone.
type Route53Bootstrap struct {
	client       *route53.Client
	hostedZoneID string
	domainSuffix string
	ttl          int64
}

func NewRoute53Bootstrap(cfg dhtconfig.Route53Config) (*Route53Bootstrap, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := newRoute53Client(ctx)
	if err != nil {
		return nil, err
	}
	return &Route53Bootstrap{
		client:       client,
		hostedZoneID: cfg.HostedZoneID,
		domainSuffix: strings.TrimSuffix(cfg.DomainSuffix, "."),
		ttl:          cfg.TTL,
	}, nil
}

// newRoute53Client creates a new Route53 client using the default AWS config.
func newRoute53Client(ctx context.Context) (*route53.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return route53.NewFromConfig(awsCfg), nil
}

// Discover queries Route53 for SRV records under the configured hosted zone.
func (r *Route53Bootstrap) Discover(ctx context.Context) ([]string, error) {
	var endpoints []string
	input := &route53.ListResourceRecordSetsInput{
		HostedZoneId: aws.String(r.hostedZoneID),
	}
	paginator := route53.NewListResourceRecordSetsPaginator(r.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list records: %w", err)
		}
		for _, rrset := range page.ResourceRecordSets {
			if rrset.Type != types.RRTypeSrv {
				continue
			}
			if !strings.HasSuffix(strings.TrimSuffix(*rrset.Name, "."), r.domainSuffix) {
				continue
			}

			for _, rr := range rrset.ResourceRecords {
				var prio, weight, port int
				var target string
				if _, err := fmt.Sscanf(*rr.Value, "%d %d %d %s", &prio, &weight, &port, &target); err != nil {
					continue
				}
				target = strings.TrimSuffix(target, ".")

				ips, err := net.LookupHost(target)
				if err != nil {
					continue
				}
				for _, ip := range ips {
					endpoints = append(endpoints, fmt.Sprintf("%s:%d", ip, port))
				}
			}
		}
	}

	return endpoints, nil
}

// Register creates or updates an SRV record in Route53 pointing at self.
func (r *Route53Bootstrap) Register(ctx context.Context, self domain.NodeRef) error {
	recordName := fmt.Sprintf("%s.%s.", self.ID.ToHexString(true), r.domainSuffix)
	host, port, err := net.SplitHostPort(self.Addr)
	if err != nil {
		return err
	}
	input := &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(r.hostedZoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{
				{
					Action: types.ChangeActionUpsert,
					ResourceRecordSet: &types.ResourceRecordSet{
						Name: aws.String(recordName),
						Type: types.RRTypeSrv,
						TTL:  aws.Int64(r.ttl),
						ResourceRecords: []types.ResourceRecord{
							{
								// Format: priority weight port target (priority and weight set to 0)
								Value: aws.String(fmt.Sprintf("0 0 %s %s.", port, host)),
							},
						},
					},
				},
			},
		},
	}
	_, err = r.client.ChangeResourceRecordSets(ctx, input)
	return err
}

// Deregister removes the SRV record for self from Route53.
func (r *Route53Bootstrap) Deregister(ctx context.Context, self domain.NodeRef) error {
	recordName := fmt.Sprintf("%s.%s.", self.ID.ToHexString(true), r.domainSuffix)
	host, port, err := net.SplitHostPort(self.Addr)
	if err != nil {
		return err
	}
	input := &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(r.hostedZoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{
				{
					Action: types.ChangeActionDelete,
					ResourceRecordSet: &types.ResourceRecordSet{
						Name: aws.String(recordName),
						Type: types.RRTypeSrv,
						TTL:  aws.Int64(r.ttl),
						ResourceRecords: []types.ResourceRecord{
							{
								Value: aws.String(fmt.Sprintf("0 0 %s %s.", port, host)),
							},
						},
					},
				},
			},
		},
	}
	_, err = r.client.ChangeResourceRecordSets(ctx, input)
	return err
}
