package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yairfalse/instantiate/pkg/resource"
)

// lambdaTimeLayout is the format of FunctionConfiguration.LastModified.
const lambdaTimeLayout = "2006-01-02T15:04:05.000-0700"

// describeTasksBatch is the ECS DescribeTasks limit.
const describeTasksBatch = 100

// listLambda lists Lambda functions with their tags.
func (a *Adapter) listLambda(ctx context.Context, cl *clients) ([]resource.Resource, error) {
	var resources []resource.Resource
	var marker *string

	for {
		output, err := cl.lambda.ListFunctions(ctx, &lambda.ListFunctionsInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list functions: %w", err)
		}

		for _, fn := range output.Functions {
			r := a.convertLambda(cl.region, fn)
			tags, err := cl.lambda.ListTags(ctx, &lambda.ListTagsInput{Resource: fn.FunctionArn})
			if err == nil {
				for k, v := range tags.Tags {
					r.Labels[k] = v
				}
			}
			resources = append(resources, r)
		}

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return resources, nil
}

func (a *Adapter) convertLambda(region string, fn lambdatypes.FunctionConfiguration) resource.Resource {
	r := a.newResource(region, aws.ToString(fn.FunctionArn), "lambda", normalize(string(fn.State)), aws.ToString(fn.FunctionName))
	if t, err := time.Parse(lambdaTimeLayout, aws.ToString(fn.LastModified)); err == nil {
		r.CreatedAt = t
	}
	return r
}

// listECS lists tasks in the configured cluster.
func (a *Adapter) listECS(ctx context.Context, cl *clients) ([]resource.Resource, error) {
	var arns []string
	var nextToken *string

	for {
		output, err := cl.ecs.ListTasks(ctx, &ecs.ListTasksInput{Cluster: aws.String(a.cfg.ECSCluster), NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		arns = append(arns, output.TaskArns...)
		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	var resources []resource.Resource
	for start := 0; start < len(arns); start += describeTasksBatch {
		end := min(start+describeTasksBatch, len(arns))
		output, err := cl.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
			Cluster: aws.String(a.cfg.ECSCluster),
			Tasks:   arns[start:end],
			Include: []ecstypes.TaskField{ecstypes.TaskFieldTags},
		})
		if err != nil {
			return nil, fmt.Errorf("describe tasks: %w", err)
		}
		for _, task := range output.Tasks {
			resources = append(resources, a.convertTask(cl.region, task))
		}
	}

	return resources, nil
}

func (a *Adapter) convertTask(region string, task ecstypes.Task) resource.Resource {
	name := aws.ToString(task.Group)
	for _, tag := range task.Tags {
		if aws.ToString(tag.Key) == "Name" {
			name = aws.ToString(tag.Value)
		}
	}
	r := a.newResource(region, aws.ToString(task.TaskArn), "ecs", normalize(aws.ToString(task.LastStatus)), name)
	for _, tag := range task.Tags {
		r.Labels[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	if task.CreatedAt != nil {
		r.CreatedAt = *task.CreatedAt
	}
	return r
}

// listS3 lists buckets (no pagination needed) with their tags.
func (a *Adapter) listS3(ctx context.Context, cl *clients) ([]resource.Resource, error) {
	output, err := cl.s3.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	var resources []resource.Resource
	for _, bucket := range output.Buckets {
		name := aws.ToString(bucket.Name)
		r := a.newResource(cl.region, name, "s3", "active", name)
		r.URL = websiteURL(name, cl.region)
		if bucket.CreationDate != nil {
			r.CreatedAt = *bucket.CreationDate
		}
		// Buckets without tags return an error here; they are simply unlabeled.
		if tags, err := cl.s3.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: bucket.Name}); err == nil {
			for _, tag := range tags.TagSet {
				r.Labels[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
			}
		}
		resources = append(resources, r)
	}

	return resources, nil
}

// listEC2 lists instances carrying the marker tag.
func (a *Adapter) listEC2(ctx context.Context, cl *clients) ([]resource.Resource, error) {
	var resources []resource.Resource
	var nextToken *string

	for {
		output, err := cl.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters:   []ec2types.Filter{{Name: aws.String("tag-key"), Values: []string{resource.Marker}}},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				resources = append(resources, a.convertEC2Instance(cl.region, instance))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

func (a *Adapter) convertEC2Instance(region string, instance ec2types.Instance) resource.Resource {
	status := "unknown"
	if instance.State != nil {
		status = normalize(string(instance.State.Name))
	}
	r := a.newResource(region, aws.ToString(instance.InstanceId), "ec2", status, extractNameTag(instance.Tags))
	for _, tag := range instance.Tags {
		r.Labels[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	if instance.LaunchTime != nil {
		r.CreatedAt = *instance.LaunchTime
	}
	if dns := aws.ToString(instance.PublicDnsName); dns != "" {
		r.URL = "http://" + dns
	}
	return r
}

func extractNameTag(tags []ec2types.Tag) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == "Name" {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}

// newResource stamps LastChecked with the adapter clock.
func (a *Adapter) newResource(region, id, typ, status, name string) resource.Resource {
	return resource.Resource{
		ID:          id,
		Type:        typ,
		Provider:    "aws",
		Region:      region,
		Name:        name,
		Status:      status,
		Labels:      make(map[string]string),
		LastChecked: a.now(),
	}
}

func websiteURL(bucket, region string) string {
	return fmt.Sprintf("http://%s.s3-website-%s.amazonaws.com", bucket, region)
}
