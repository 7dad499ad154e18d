// Package aws implements the AWS provider adapter.
package aws

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/internal/telemetry"
	"github.com/yairfalse/instantiate/pkg/resource"
)

// DefaultRegion is used when neither the request nor the credentials name one.
const DefaultRegion = "us-east-1"

// Config holds AWS adapter configuration.
type Config struct {
	Region        string
	LambdaRoleARN string
	ECSCluster    string
	Subnets       []string
}

// clients bundles the per-region service clients (interfaces for testability).
type clients struct {
	region string
	ec2    EC2API
	ecs    ECSAPI
	lambda LambdaAPI
	s3     S3API
}

// Adapter implements provider.Adapter for AWS.
type Adapter struct {
	cfg    Config
	creds  credentials.Reader
	now    func() time.Time
	logger *telemetry.Logger

	// newClients builds service clients for a region; replaced in tests.
	newClients func(ctx context.Context, c *credentials.Credentials, region string) (*clients, error)
}

// New creates a new AWS adapter.
func New(cfg Config, creds credentials.Reader) *Adapter {
	if cfg.ECSCluster == "" {
		cfg.ECSCluster = "default"
	}
	return &Adapter{
		cfg:        cfg,
		creds:      creds,
		now:        time.Now,
		logger:     telemetry.NewLogger("aws"),
		newClients: sdkClients,
	}
}

func sdkClients(ctx context.Context, c *credentials.Credentials, region string) (*clients, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, c.Token)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &clients{
		region: region,
		ec2:    ec2.NewFromConfig(awsCfg),
		ecs:    ecs.NewFromConfig(awsCfg),
		lambda: lambda.NewFromConfig(awsCfg),
		s3:     s3.NewFromConfig(awsCfg),
	}, nil
}

// Kind returns the provider identifier.
func (a *Adapter) Kind() provider.Kind {
	return provider.AWS
}

func (a *Adapter) connect(ctx context.Context, region string) (*clients, error) {
	c, err := credentials.Resolve(a.creds, provider.AWS)
	if err != nil {
		return nil, err
	}
	if region == "" {
		region = c.Region
	}
	if region == "" {
		region = a.cfg.Region
	}
	if region == "" {
		region = DefaultRegion
	}
	cl, err := a.newClients(ctx, c, region)
	if err != nil {
		return nil, provider.Wrap(provider.VendorError, provider.AWS, "connect", fmt.Errorf("aws: %w", err))
	}
	return cl, nil
}

type lister struct {
	name string
	fn   func(context.Context, *clients) ([]resource.Resource, error)
}

func (a *Adapter) listers() []lister {
	return []lister{
		{"lambda", a.listLambda},
		{"ecs", a.listECS},
		{"s3", a.listS3},
		{"ec2", a.listEC2},
	}
}

// ListResources lists every marked resource across the supported services.
// A failing service is logged and skipped; an error is returned only when
// every service failed.
func (a *Adapter) ListResources(ctx context.Context) ([]resource.Resource, error) {
	cl, err := a.connect(ctx, "")
	if err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		resources []resource.Resource
		errs      []error
	)

	listers := a.listers()
	for _, l := range listers {
		wg.Add(1)
		go func(l lister) {
			defer wg.Done()
			result, err := l.fn(ctx, cl)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.WithContext(ctx).Warn().Err(err).Str("provider", "aws").Str("service", l.name).Msg("list failed")
				errs = append(errs, err)
				return
			}
			for _, r := range result {
				if r.IsMarked() {
					resources = append(resources, r)
				}
			}
		}(l)
	}
	wg.Wait()

	if len(errs) == len(listers) {
		return nil, provider.Wrap(provider.VendorError, provider.AWS, "list", fmt.Errorf("aws: every service listing failed: %w", errs[0]))
	}
	return resources, nil
}

// ResourceStatus returns the vendor status of one resource.
func (a *Adapter) ResourceStatus(ctx context.Context, id, typ string) (string, error) {
	cl, err := a.connect(ctx, "")
	if err != nil {
		return "", err
	}

	switch typ {
	case "lambda":
		out, err := cl.lambda.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(id)})
		if err != nil {
			return "", vendorErr("get function", err)
		}
		if out.Configuration == nil {
			return "unknown", nil
		}
		return normalize(string(out.Configuration.State)), nil
	case "ecs":
		out, err := cl.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{Cluster: aws.String(a.cfg.ECSCluster), Tasks: []string{id}})
		if err != nil {
			return "", vendorErr("describe tasks", err)
		}
		if len(out.Tasks) == 0 {
			return "", provider.Errorf(provider.VendorError, provider.AWS, "task %s not found", id)
		}
		return normalize(aws.ToString(out.Tasks[0].LastStatus)), nil
	case "s3":
		if _, err := cl.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(id)}); err != nil {
			return "", vendorErr("head bucket", err)
		}
		return "active", nil
	case "ec2":
		out, err := cl.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
		if err != nil {
			return "", vendorErr("describe instances", err)
		}
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				if inst.State != nil {
					return normalize(string(inst.State.Name)), nil
				}
			}
		}
		return "", provider.Errorf(provider.VendorError, provider.AWS, "instance %s not found", id)
	default:
		return "", provider.UnsupportedType(provider.AWS, typ)
	}
}

// DeleteResource deletes one resource.
func (a *Adapter) DeleteResource(ctx context.Context, id, typ string) error {
	cl, err := a.connect(ctx, "")
	if err != nil {
		return err
	}

	switch typ {
	case "lambda":
		if _, err := cl.lambda.DeleteFunction(ctx, &lambda.DeleteFunctionInput{FunctionName: aws.String(id)}); err != nil {
			return vendorErr("delete function", err)
		}
	case "ecs":
		_, err := cl.ecs.StopTask(ctx, &ecs.StopTaskInput{
			Cluster: aws.String(a.cfg.ECSCluster),
			Task:    aws.String(id),
			Reason:  aws.String("deleted via instantiate"),
		})
		if err != nil {
			return vendorErr("stop task", err)
		}
	case "s3":
		return a.deleteBucket(ctx, cl, id)
	case "ec2":
		if _, err := cl.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}}); err != nil {
			return vendorErr("terminate instances", err)
		}
	default:
		return provider.UnsupportedType(provider.AWS, typ)
	}
	return nil
}

func (a *Adapter) deleteBucket(ctx context.Context, cl *clients, bucket string) error {
	var token *string
	for {
		out, err := cl.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(bucket), ContinuationToken: token})
		if err != nil {
			return vendorErr("list objects", err)
		}
		for _, obj := range out.Contents {
			if _, err := cl.s3.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key}); err != nil {
				return vendorErr("delete object", err)
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	if _, err := cl.s3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return vendorErr("delete bucket", err)
	}
	return nil
}

func vendorErr(op string, err error) error {
	return provider.Wrap(provider.VendorError, provider.AWS, op, fmt.Errorf("aws: %s: %w", op, err))
}

func normalize(status string) string {
	if status == "" {
		return "unknown"
	}
	return strings.ToLower(status)
}
