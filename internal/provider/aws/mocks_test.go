package aws

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
)

var errNotMocked = errors.New("not mocked")

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestAdapter(cl *clients) *Adapter {
	a := New(Config{LambdaRoleARN: "arn:aws:iam::123456789012:role/lambda", Subnets: []string{"subnet-1"}},
		credentials.Static{provider.AWS: {AccessKey: "AKIA", SecretKey: "secret", Region: "eu-west-1"}})
	a.now = func() time.Time { return testNow }
	a.newClients = func(_ context.Context, _ *credentials.Credentials, region string) (*clients, error) {
		cl.region = region
		return cl, nil
	}
	return a
}

type mockEC2Client struct {
	DescribeInstancesFunc  func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstancesFunc func(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

func (m *mockEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if m.DescribeInstancesFunc == nil {
		return &ec2.DescribeInstancesOutput{}, nil
	}
	return m.DescribeInstancesFunc(ctx, params, optFns...)
}

func (m *mockEC2Client) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	if m.TerminateInstancesFunc == nil {
		return nil, errNotMocked
	}
	return m.TerminateInstancesFunc(ctx, params, optFns...)
}

type mockECSClient struct {
	RegisterTaskDefinitionFunc func(ctx context.Context, params *ecs.RegisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error)
	RunTaskFunc                func(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
	ListTasksFunc              func(ctx context.Context, params *ecs.ListTasksInput, optFns ...func(*ecs.Options)) (*ecs.ListTasksOutput, error)
	DescribeTasksFunc          func(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
	StopTaskFunc               func(ctx context.Context, params *ecs.StopTaskInput, optFns ...func(*ecs.Options)) (*ecs.StopTaskOutput, error)
}

func (m *mockECSClient) RegisterTaskDefinition(ctx context.Context, params *ecs.RegisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error) {
	if m.RegisterTaskDefinitionFunc == nil {
		return nil, errNotMocked
	}
	return m.RegisterTaskDefinitionFunc(ctx, params, optFns...)
}

func (m *mockECSClient) RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error) {
	if m.RunTaskFunc == nil {
		return nil, errNotMocked
	}
	return m.RunTaskFunc(ctx, params, optFns...)
}

func (m *mockECSClient) ListTasks(ctx context.Context, params *ecs.ListTasksInput, optFns ...func(*ecs.Options)) (*ecs.ListTasksOutput, error) {
	if m.ListTasksFunc == nil {
		return &ecs.ListTasksOutput{}, nil
	}
	return m.ListTasksFunc(ctx, params, optFns...)
}

func (m *mockECSClient) DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error) {
	if m.DescribeTasksFunc == nil {
		return &ecs.DescribeTasksOutput{}, nil
	}
	return m.DescribeTasksFunc(ctx, params, optFns...)
}

func (m *mockECSClient) StopTask(ctx context.Context, params *ecs.StopTaskInput, optFns ...func(*ecs.Options)) (*ecs.StopTaskOutput, error) {
	if m.StopTaskFunc == nil {
		return nil, errNotMocked
	}
	return m.StopTaskFunc(ctx, params, optFns...)
}

type mockLambdaClient struct {
	CreateFunctionFunc func(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	ListFunctionsFunc  func(ctx context.Context, params *lambda.ListFunctionsInput, optFns ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error)
	ListTagsFunc       func(ctx context.Context, params *lambda.ListTagsInput, optFns ...func(*lambda.Options)) (*lambda.ListTagsOutput, error)
	GetFunctionFunc    func(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	DeleteFunctionFunc func(ctx context.Context, params *lambda.DeleteFunctionInput, optFns ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error)
}

func (m *mockLambdaClient) CreateFunction(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error) {
	if m.CreateFunctionFunc == nil {
		return nil, errNotMocked
	}
	return m.CreateFunctionFunc(ctx, params, optFns...)
}

func (m *mockLambdaClient) ListFunctions(ctx context.Context, params *lambda.ListFunctionsInput, optFns ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error) {
	if m.ListFunctionsFunc == nil {
		return &lambda.ListFunctionsOutput{}, nil
	}
	return m.ListFunctionsFunc(ctx, params, optFns...)
}

func (m *mockLambdaClient) ListTags(ctx context.Context, params *lambda.ListTagsInput, optFns ...func(*lambda.Options)) (*lambda.ListTagsOutput, error) {
	if m.ListTagsFunc == nil {
		return &lambda.ListTagsOutput{}, nil
	}
	return m.ListTagsFunc(ctx, params, optFns...)
}

func (m *mockLambdaClient) GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error) {
	if m.GetFunctionFunc == nil {
		return nil, errNotMocked
	}
	return m.GetFunctionFunc(ctx, params, optFns...)
}

func (m *mockLambdaClient) DeleteFunction(ctx context.Context, params *lambda.DeleteFunctionInput, optFns ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error) {
	if m.DeleteFunctionFunc == nil {
		return nil, errNotMocked
	}
	return m.DeleteFunctionFunc(ctx, params, optFns...)
}

// mockS3Client records the order of calls so deploy and delete sequences can
// be asserted.
type mockS3Client struct {
	calls []string

	ListBucketsFunc      func(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	GetBucketTaggingFunc func(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error)
	CreateBucketFunc     func(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObjectFunc        func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2Func    func(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

func (m *mockS3Client) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	m.calls = append(m.calls, "CreateBucket")
	if m.CreateBucketFunc == nil {
		return &s3.CreateBucketOutput{}, nil
	}
	return m.CreateBucketFunc(ctx, params, optFns...)
}

func (m *mockS3Client) PutBucketTagging(_ context.Context, _ *s3.PutBucketTaggingInput, _ ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error) {
	m.calls = append(m.calls, "PutBucketTagging")
	return &s3.PutBucketTaggingOutput{}, nil
}

func (m *mockS3Client) PutBucketWebsite(_ context.Context, _ *s3.PutBucketWebsiteInput, _ ...func(*s3.Options)) (*s3.PutBucketWebsiteOutput, error) {
	m.calls = append(m.calls, "PutBucketWebsite")
	return &s3.PutBucketWebsiteOutput{}, nil
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.calls = append(m.calls, "PutObject")
	if m.PutObjectFunc == nil {
		return &s3.PutObjectOutput{}, nil
	}
	return m.PutObjectFunc(ctx, params, optFns...)
}

func (m *mockS3Client) ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	if m.ListBucketsFunc == nil {
		return &s3.ListBucketsOutput{}, nil
	}
	return m.ListBucketsFunc(ctx, params, optFns...)
}

func (m *mockS3Client) GetBucketTagging(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	if m.GetBucketTaggingFunc == nil {
		return nil, errors.New("NoSuchTagSet")
	}
	return m.GetBucketTaggingFunc(ctx, params, optFns...)
}

func (m *mockS3Client) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	m.calls = append(m.calls, "HeadBucket")
	return &s3.HeadBucketOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.calls = append(m.calls, "ListObjectsV2")
	if m.ListObjectsV2Func == nil {
		return &s3.ListObjectsV2Output{}, nil
	}
	return m.ListObjectsV2Func(ctx, params, optFns...)
}

func (m *mockS3Client) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.calls = append(m.calls, "DeleteObject:"+*params.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) DeleteBucket(_ context.Context, _ *s3.DeleteBucketInput, _ ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	m.calls = append(m.calls, "DeleteBucket")
	return &s3.DeleteBucketOutput{}, nil
}

func allClients() *clients {
	return &clients{
		ec2:    &mockEC2Client{},
		ecs:    &mockECSClient{},
		lambda: &mockLambdaClient{},
		s3:     &mockS3Client{},
	}
}
