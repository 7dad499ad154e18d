package aws

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/pkg/resource"
)

// Deploy routes the request to the service named by req.Service.
func (a *Adapter) Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error) {
	var deploy func(context.Context, *clients, resource.DeployRequest) (*resource.Deployment, error)
	switch req.Service {
	case "lambda":
		deploy = a.deployLambda
	case "ecs":
		deploy = a.deployECS
	case "s3":
		deploy = a.deployS3
	default:
		return nil, provider.UnsupportedService(provider.AWS, req.Service)
	}

	cl, err := a.connect(ctx, req.Region)
	if err != nil {
		return nil, err
	}
	return deploy(ctx, cl, req)
}

func (a *Adapter) deployLambda(ctx context.Context, cl *clients, req resource.DeployRequest) (*resource.Deployment, error) {
	var runtime lambdatypes.Runtime
	var handler string
	switch req.CodeType {
	case resource.CodeJavaScript:
		runtime, handler = lambdatypes.RuntimeNodejs20x, "index.handler"
	case resource.CodePython:
		runtime, handler = lambdatypes.RuntimePython312, "lambda_function.lambda_handler"
	default:
		return nil, provider.Errorf(provider.Unsupported, provider.AWS, "lambda does not run %s code", req.CodeType)
	}
	if a.cfg.LambdaRoleARN == "" {
		return nil, provider.Errorf(provider.VendorError, provider.AWS, "lambda deploy requires an execution role (lambda_role_arn)")
	}

	zipped, err := provider.Zip(map[string]string{provider.SourceFile(req.CodeType): req.Code})
	if err != nil {
		return nil, fmt.Errorf("package lambda: %w", err)
	}

	out, err := cl.lambda.CreateFunction(ctx, &lambda.CreateFunctionInput{
		FunctionName: aws.String(req.Name),
		Role:         aws.String(a.cfg.LambdaRoleARN),
		Runtime:      runtime,
		Handler:      aws.String(handler),
		Code:         &lambdatypes.FunctionCode{ZipFile: zipped},
		Environment:  &lambdatypes.Environment{Variables: req.EnvironmentVariables},
		Tags:         map[string]string{resource.Marker: "true"},
		Timeout:      aws.Int32(30),
		MemorySize:   aws.Int32(128),
	})
	if err != nil {
		return nil, vendorErr("create function", err)
	}

	return &resource.Deployment{
		ID:        aws.ToString(out.FunctionArn),
		Name:      req.Name,
		Type:      "lambda",
		Region:    cl.region,
		Status:    normalize(string(out.State)),
		CreatedAt: a.now(),
		Logs: []string{
			fmt.Sprintf("Packaged %s (%d bytes)", provider.SourceFile(req.CodeType), len(zipped)),
			fmt.Sprintf("Created function %s with runtime %s", req.Name, runtime),
		},
	}, nil
}

func (a *Adapter) deployECS(ctx context.Context, cl *clients, req resource.DeployRequest) (*resource.Deployment, error) {
	if req.CodeType != resource.CodeContainer {
		return nil, provider.Errorf(provider.Unsupported, provider.AWS, "ecs requires a container image, got %s code", req.CodeType)
	}
	if len(a.cfg.Subnets) == 0 {
		return nil, provider.Errorf(provider.VendorError, provider.AWS, "ecs deploy requires at least one subnet")
	}

	env := make([]ecstypes.KeyValuePair, 0, len(req.EnvironmentVariables))
	for k, v := range req.EnvironmentVariables {
		env = append(env, ecstypes.KeyValuePair{Name: aws.String(k), Value: aws.String(v)})
	}
	tags := []ecstypes.Tag{
		{Key: aws.String("Name"), Value: aws.String(req.Name)},
		{Key: aws.String(resource.Marker), Value: aws.String("true")},
	}

	def, err := cl.ecs.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family: aws.String(req.Name),
		ContainerDefinitions: []ecstypes.ContainerDefinition{{
			Name:         aws.String(req.Name),
			Image:        aws.String(req.Code),
			Essential:    aws.Bool(true),
			Environment:  env,
			PortMappings: []ecstypes.PortMapping{{ContainerPort: aws.Int32(80)}},
		}},
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityFargate},
		NetworkMode:             ecstypes.NetworkModeAwsvpc,
		Cpu:                     aws.String("256"),
		Memory:                  aws.String("512"),
		Tags:                    tags,
	})
	if err != nil {
		return nil, vendorErr("register task definition", err)
	}
	defARN := aws.ToString(def.TaskDefinition.TaskDefinitionArn)

	run, err := cl.ecs.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(a.cfg.ECSCluster),
		TaskDefinition: aws.String(defARN),
		LaunchType:     ecstypes.LaunchTypeFargate,
		Count:          aws.Int32(1),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        a.cfg.Subnets,
				AssignPublicIp: ecstypes.AssignPublicIpEnabled,
			},
		},
		Tags: tags,
	})
	if err != nil {
		return nil, vendorErr("run task", err)
	}
	if len(run.Tasks) == 0 {
		reason := "no task started"
		if len(run.Failures) > 0 {
			reason = aws.ToString(run.Failures[0].Reason)
		}
		return nil, provider.Errorf(provider.VendorError, provider.AWS, "run task: %s", reason)
	}
	task := run.Tasks[0]

	return &resource.Deployment{
		ID:        aws.ToString(task.TaskArn),
		Name:      req.Name,
		Type:      "ecs",
		Region:    cl.region,
		Status:    normalize(aws.ToString(task.LastStatus)),
		CreatedAt: a.now(),
		Logs: []string{
			"Registered task definition " + defARN,
			"Started task in cluster " + a.cfg.ECSCluster,
		},
	}, nil
}

func (a *Adapter) deployS3(ctx context.Context, cl *clients, req resource.DeployRequest) (*resource.Deployment, error) {
	bucket := bucketName(req.Name, a.now().Unix())

	create := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if cl.region != DefaultRegion {
		create.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(cl.region),
		}
	}
	if _, err := cl.s3.CreateBucket(ctx, create); err != nil {
		return nil, vendorErr("create bucket", err)
	}

	_, err := cl.s3.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket: aws.String(bucket),
		Tagging: &s3types.Tagging{TagSet: []s3types.Tag{
			{Key: aws.String(resource.Marker), Value: aws.String("true")},
			{Key: aws.String("Name"), Value: aws.String(req.Name)},
		}},
	})
	if err != nil {
		return nil, vendorErr("tag bucket", err)
	}

	_, err = cl.s3.PutBucketWebsite(ctx, &s3.PutBucketWebsiteInput{
		Bucket: aws.String(bucket),
		WebsiteConfiguration: &s3types.WebsiteConfiguration{
			IndexDocument: &s3types.IndexDocument{Suffix: aws.String("index.html")},
		},
	})
	if err != nil {
		return nil, vendorErr("configure website", err)
	}

	_, err = cl.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String("index.html"),
		Body:        strings.NewReader(req.Code),
		ContentType: aws.String(contentType(req.CodeType)),
	})
	if err != nil {
		return nil, vendorErr("upload index", err)
	}

	return &resource.Deployment{
		ID:        bucket,
		Name:      req.Name,
		Type:      "s3",
		Region:    cl.region,
		Status:    "active",
		URL:       websiteURL(bucket, cl.region),
		CreatedAt: a.now(),
		Logs: []string{
			"Created bucket " + bucket,
			"Uploaded index.html",
		},
	}, nil
}

// bucketName derives a globally unique, lowercase bucket name.
func bucketName(name string, unix int64) string {
	return fmt.Sprintf("%s-%s", strings.ToLower(name), strconv.FormatInt(unix, 36))
}

func contentType(codeType string) string {
	switch codeType {
	case resource.CodeHTML:
		return "text/html"
	case resource.CodeJavaScript:
		return "application/javascript"
	default:
		return "text/plain"
	}
}
