package asg

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/pkg/types"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL}), srv
}

func TestCreateGroup(t *testing.T) {
	var posted url.Values
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/eu-west-1/autoScaling/save", r.URL.Path)
		require.NoError(t, r.ParseForm())
		posted = r.PostForm
		w.Header().Set("Location", "http://asg.example.com/eu-west-1/autoScaling/show/accounts-poke")
		w.WriteHeader(http.StatusFound)
	}))

	form := url.Values{"appName": {"accounts"}, "stack": {"poke"}}
	name, err := c.CreateGroup(context.Background(), "poke", "eu-west-1", form)
	require.NoError(t, err)
	assert.Equal(t, "accounts-poke", name)
	assert.Equal(t, "accounts", posted.Get("appName"))
}

func TestCreateGroupMalformedRedirect(t *testing.T) {
	// A redirect that does not identify a group means the service rejected
	// the request in its own way
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://asg.example.com/eu-west-1/cluster/list")
		w.WriteHeader(http.StatusFound)
	}))

	_, err := c.CreateGroup(context.Background(), "poke", "eu-west-1", url.Values{})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrUnexpectedResponse))
	assert.False(t, types.Transient(err))
}

func TestCreateGroupRejectsNon302(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	_, err := c.CreateGroup(context.Background(), "poke", "eu-west-1", url.Values{})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrUnexpectedResponse))
}

func TestCreateNextGroupTaskRedirect(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/eu-west-1/cluster/createNextGroup", r.URL.Path)
		w.Header().Set("Location", "http://asg.example.com/eu-west-1/task/show/1180")
		w.WriteHeader(http.StatusFound)
	}))

	taskURL, err := c.CreateNextGroup(context.Background(), "poke", "eu-west-1", "accounts-poke", url.Values{})
	require.NoError(t, err)
	assert.Equal(t, "http://asg.example.com/eu-west-1/task/show/1180.json", taskURL)
}

func TestCreateNextGroupClusterPageFallback(t *testing.T) {
	// Older service versions redirect to the cluster page; the task is then
	// resolved through the task listing
	mux := http.NewServeMux()
	mux.HandleFunc("/eu-west-1/cluster/createNextGroup", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://asg.example.com/eu-west-1/cluster/show/accounts-poke")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/eu-west-1/task/list.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"runningTaskList": [
				{"id": 77, "name": "Creating auto scaling group 'payments-poke-v004', min 2, max 2"},
				{"id": 1180, "name": "Creating auto scaling group 'accounts-poke-v003', min 3, max 3"}
			],
			"completedTaskList": []
		}`)
	})
	c, srv := testClient(t, mux)

	taskURL, err := c.CreateNextGroup(context.Background(), "poke", "eu-west-1", "accounts-poke", url.Values{})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/eu-west-1/task/show/1180.json", taskURL)
}

func TestCreateNextGroupTaskMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/eu-west-1/cluster/createNextGroup", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://asg.example.com/eu-west-1/cluster/show/accounts-poke")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/eu-west-1/task/list.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"runningTaskList": [{"id": 5, "name": "Disable ASG 'payments-poke-v001'"}], "completedTaskList": []}`)
	})
	c, _ := testClient(t, mux)

	_, err := c.CreateNextGroup(context.Background(), "poke", "eu-west-1", "accounts-poke", url.Values{})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrTaskMissing))
	assert.False(t, types.Transient(err))
}

func TestClusterActions(t *testing.T) {
	cases := []struct {
		name   string
		action string
		call   func(c *Client) (string, error)
	}{
		{"enable", "_action_activate", func(c *Client) (string, error) {
			return c.EnableTraffic(context.Background(), "poke", "eu-west-1", "accounts-poke-v002", "deploy-1")
		}},
		{"disable", "_action_deactivate", func(c *Client) (string, error) {
			return c.DisableTraffic(context.Background(), "poke", "eu-west-1", "accounts-poke-v001", "deploy-1")
		}},
		{"delete", "_action_delete", func(c *Client) (string, error) {
			return c.DeleteGroup(context.Background(), "poke", "eu-west-1", "accounts-poke-v001", "deploy-1")
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var posted url.Values
			c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/eu-west-1/cluster/index", r.URL.Path)
				require.NoError(t, r.ParseForm())
				posted = r.PostForm
				w.Header().Set("Location", "http://asg.example.com/eu-west-1/task/show/42")
				w.WriteHeader(http.StatusFound)
			}))

			taskURL, err := tc.call(c)
			require.NoError(t, err)
			assert.Equal(t, "http://asg.example.com/eu-west-1/task/show/42.json", taskURL)
			assert.True(t, posted.Has(tc.action))
			assert.Equal(t, "deploy-1", posted.Get("ticket"))
			assert.NotEmpty(t, posted.Get("name"))
		})
	}
}

func TestResizeGroup(t *testing.T) {
	var posted url.Values
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		posted = r.PostForm
		w.Header().Set("Location", "http://asg.example.com/eu-west-1/task/show/43")
		w.WriteHeader(http.StatusFound)
	}))

	_, err := c.ResizeGroup(context.Background(), "poke", "eu-west-1", "accounts-poke-v002", "deploy-1", 3)
	require.NoError(t, err)
	assert.True(t, posted.Has("_action_resize"))
	assert.Equal(t, "3", posted.Get("minAndMaxSize"))
}

func TestGetTask(t *testing.T) {
	c, srv := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "completed", "log": ["2015-11-07_10:15:00 Completed in 22m"], "updateTime": "2015-11-07 10:15:00 UTC"}`)
	}))

	task, err := c.GetTask(context.Background(), srv.URL+"/eu-west-1/task/show/1180.json")
	require.NoError(t, err)
	assert.True(t, task.Finished())
	assert.Equal(t, types.TaskCompleted, task.TaskStatus())
}

func TestGetTaskFailureIsTransient(t *testing.T) {
	c, srv := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.GetTask(context.Background(), srv.URL+"/eu-west-1/task/show/1180.json")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrHTTP))
	assert.True(t, types.Transient(err))
}

func TestShowGroup(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/eu-west-1/autoScaling/show/accounts-poke-v002.json", r.URL.Path)
		fmt.Fprint(w, `{
			"group": {
				"autoScalingGroupName": "accounts-poke-v002",
				"minSize": 3, "maxSize": 3, "desiredCapacity": 3,
				"loadBalancerNames": ["accounts-frontend"],
				"instances": [
					{"instanceId": "i-aaa", "lifecycleState": "InService"},
					{"instanceId": "i-bbb", "lifecycleState": "Pending"}
				]
			},
			"instances": [
				{"instanceId": "i-aaa", "privateIpAddress": "10.0.0.10"},
				{"instanceId": "i-bbb", "privateIpAddress": "10.0.0.11"}
			]
		}`)
	}))

	group, err := c.ShowGroup(context.Background(), "poke", "eu-west-1", "accounts-poke-v002")
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, "accounts-poke-v002", group.Name)
	assert.Equal(t, 3, group.Min)
	assert.Equal(t, []string{"accounts-frontend"}, group.LoadBalancerNames)
	require.Len(t, group.Instances, 2)
	assert.Equal(t, "10.0.0.10", group.Instances[0].PrivateIP)
	assert.Equal(t, "InService", group.Instances[0].LifecycleState)
	assert.Equal(t, "10.0.0.11", group.Instances[1].PrivateIP)
}

func TestShowGroupMissing(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	group, err := c.ShowGroup(context.Background(), "poke", "eu-west-1", "accounts-poke-v009")
	require.NoError(t, err)
	assert.Nil(t, group)
}

func TestShowCluster(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/eu-west-1/cluster/show/accounts-poke.json", r.URL.Path)
		fmt.Fprint(w, `[
			{"autoScalingGroupName": "accounts-poke-v001", "image": {"imageId": "ami-00000001"}},
			{"autoScalingGroupName": "accounts-poke-v002", "image": {"imageId": "ami-00000002"}}
		]`)
	}))

	generations, err := c.ShowCluster(context.Background(), "poke", "eu-west-1", "accounts-poke")
	require.NoError(t, err)
	require.Len(t, generations, 2)
	assert.Equal(t, "accounts-poke-v001", generations[0].Name)
	assert.Equal(t, "ami-00000002", generations[1].ImageID)
}

func TestShowClusterMissing(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	generations, err := c.ShowCluster(context.Background(), "poke", "eu-west-1", "accounts-poke")
	require.NoError(t, err)
	assert.Nil(t, generations)
}

func TestSecurityGroups(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/eu-west-1/security/list.json", r.URL.Path)
		fmt.Fprint(w, `{"securityGroups": [
			{"groupId": "sg-aaaa0001", "groupName": "accounts"},
			{"groupId": "sg-aaaa0002", "groupName": "healthcheck"}
		]}`)
	}))

	groups, err := c.SecurityGroups(context.Background(), "poke", "eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"accounts": "sg-aaaa0001", "healthcheck": "sg-aaaa0002"}, groups)
}

func TestGetLoadBalancer(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/eu-west-1/loadBalancer/show/accounts-frontend.json", r.URL.Path)
		fmt.Fprint(w, `{"instanceStates": [
			{"instanceId": "i-aaa", "state": "InService"},
			{"instanceId": "i-bbb", "state": "OutOfService"}
		]}`)
	}))

	lb, err := c.GetLoadBalancer(context.Background(), "poke", "eu-west-1", "accounts-frontend")
	require.NoError(t, err)
	assert.Equal(t, "accounts-frontend", lb.Name)
	require.Len(t, lb.InstanceStates, 2)
	assert.Equal(t, InService, lb.InstanceStates[0].State)
	assert.Equal(t, "OutOfService", lb.InstanceStates[1].State)
}
